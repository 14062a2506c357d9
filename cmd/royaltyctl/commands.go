package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/royalty/internal/finance"
	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/jobs"
)

type billingOps interface {
	GenerateAll(ctx context.Context, actor int64) (royalty.GenerateResult, error)
	GenerateForBranch(ctx context.Context, branchID int64, actor int64, override *royalty.PeriodOverride) (royalty.BranchResult, error)
	UpdateOverduePayments(ctx context.Context) (royalty.SweepResult, error)
	CleanOrphanedData(ctx context.Context, actor int64) (royalty.CleanupResult, error)
}

type ledgerChecks interface {
	VerifyLedger(ctx context.Context) (finance.LedgerCheck, error)
	BalanceSheet(ctx context.Context) (finance.BalanceSheet, error)
}

type branchLister interface {
	List(ctx context.Context) ([]royalty.Branch, error)
}

type taskQueue interface {
	Enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error)
}

// runtime holds the connected collaborators for one command invocation.
type runtime struct {
	royalty  billingOps
	finance  ledgerChecks
	branches branchLister
	queue    taskQueue
	actor    int64
	loc      *time.Location
	close    func()
}

type opener func(ctx context.Context) (*runtime, error)

// errInconsistent makes verify exit non-zero after reporting its findings.
var errInconsistent = errors.New("ledger inconsistent")

func newRootCmd(open opener) *cobra.Command {
	var rt *runtime
	var actor int64

	root := &cobra.Command{
		Use:           "royaltyctl",
		Short:         "Operate franchise royalty billing and the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			rt, err = open(cmd.Context())
			if err != nil {
				return err
			}
			if actor > 0 {
				rt.actor = actor
			}
			if rt.loc == nil {
				rt.loc = time.UTC
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt != nil && rt.close != nil {
				rt.close()
			}
		},
	}
	root.PersistentFlags().Int64Var(&actor, "actor", 0, "user id recorded for mutations (default SYSTEM_ACTOR)")

	var branchID int64
	var start, end, label string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Bill every elapsed, unbilled royalty period",
		Long: `Bill every elapsed, unbilled royalty period of every active config.

With --branch only that branch is billed. --start and --end (YYYY-MM-DD, inclusive)
bill one explicit period instead of the elapsed ones; this fails if the period was
already billed.`,
		Example: `  royaltyctl generate
  royaltyctl generate --branch 12
  royaltyctl generate --branch 12 --start 2025-01-01 --end 2025-01-31 --label "January 2025"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if branchID == 0 {
				if start != "" || end != "" {
					return errors.New("--start and --end require --branch")
				}
				res, err := rt.royalty.GenerateAll(ctx, rt.actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}
			override, err := parseOverride(start, end, label, rt.loc)
			if err != nil {
				return err
			}
			res, err := rt.royalty.GenerateForBranch(ctx, branchID, rt.actor, override)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	generate.Flags().Int64Var(&branchID, "branch", 0, "bill a single branch")
	generate.Flags().StringVar(&start, "start", "", "explicit period start (YYYY-MM-DD)")
	generate.Flags().StringVar(&end, "end", "", "explicit period end, inclusive (YYYY-MM-DD)")
	generate.Flags().StringVar(&label, "label", "", "label for the explicit period")

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Mark due payments past their grace period overdue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := rt.royalty.UpdateOverduePayments(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Replay the posting journal and check the balance sheet identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			check, err := rt.finance.VerifyLedger(cmd.Context())
			if err != nil {
				return err
			}
			bs, err := rt.finance.BalanceSheet(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), map[string]any{"ledger": check, "balance_sheet": bs}); err != nil {
				return err
			}
			if !check.Consistent || !bs.IsBalanced {
				return errInconsistent
			}
			return nil
		},
	}

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete configs and payments of branches that no longer exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := rt.royalty.CleanOrphanedData(cmd.Context(), rt.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	branches := &cobra.Command{
		Use:   "branches",
		Short: "List branches known to the directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := rt.branches.List(cmd.Context())
			if err != nil {
				return err
			}
			if list == nil {
				list = []royalty.Branch{}
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	enqueue := &cobra.Command{
		Use:       "enqueue <generate|sweep|verify>",
		Short:     "Queue a scheduled job for the worker to run now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"generate", "sweep", "verify"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var task *asynq.Task
			switch args[0] {
			case "generate":
				task = jobs.NewRoyaltyGenerateTask()
			case "sweep":
				task = jobs.NewRoyaltySweepTask()
			case "verify":
				task = jobs.NewLedgerVerifyTask()
			default:
				return fmt.Errorf("unknown job %q", args[0])
			}
			info, err := rt.queue.Enqueue(cmd.Context(), task)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue})
		},
	}

	root.AddCommand(generate, sweep, verify, cleanup, branches, enqueue)
	return root
}

func parseOverride(start, end, label string, loc *time.Location) (*royalty.PeriodOverride, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, errors.New("--start and --end must be given together")
	}
	s, err := time.ParseInLocation(time.DateOnly, start, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid --start: %w", err)
	}
	e, err := time.ParseInLocation(time.DateOnly, end, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid --end: %w", err)
	}
	return &royalty.PeriodOverride{
		Start: s,
		End:   e.AddDate(0, 0, 1).Add(-time.Microsecond),
		Label: label,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
