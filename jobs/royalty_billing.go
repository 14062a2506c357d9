package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/royalty/internal/jobs"
	"github.com/odyssey-erp/royalty/internal/royalty"
)

// BillingService is the part of the royalty service driven by the scheduler.
type BillingService interface {
	GenerateAll(ctx context.Context, actor int64) (royalty.GenerateResult, error)
	UpdateOverduePayments(ctx context.Context) (royalty.SweepResult, error)
}

// BillingJob runs royalty generation and the overdue sweep on schedule. Both are
// idempotent, so asynq retries and overlapping schedules are harmless.
type BillingJob struct {
	Service BillingService
	// Actor is the user id recorded as creator of generated payments.
	Actor   int64
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBillingJob wires dependencies for the billing handlers.
func NewBillingJob(service BillingService, actor int64, logger *slog.Logger, metrics *jobmetrics.Metrics) *BillingJob {
	return &BillingJob{Service: service, Actor: actor, Logger: logger, Metrics: metrics}
}

// HandleGenerate processes TaskRoyaltyGenerate. Branches that fail to bill are logged
// and counted; they are picked up again by the next run.
func (j *BillingJob) HandleGenerate(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("royalty generate: service not configured")
	}
	tracker := j.metrics().Track(TaskRoyaltyGenerate)
	result, err := j.Service.GenerateAll(ctx, j.Actor)
	if err != nil {
		j.log(TaskRoyaltyGenerate).Error("generate royalty payments", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddFindings("billing_failure", result.Failed)
	for _, br := range result.Results {
		if br.Error != "" {
			j.log(TaskRoyaltyGenerate).Warn("branch not billed", slog.Int64("branch_id", br.BranchID), slog.String("error", br.Error))
		}
	}
	j.log(TaskRoyaltyGenerate).Info("royalty generation run",
		slog.Int("configs", result.Total),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return tracker.End(nil)
}

// HandleSweep processes TaskRoyaltySweep.
func (j *BillingJob) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("royalty sweep: service not configured")
	}
	tracker := j.metrics().Track(TaskRoyaltySweep)
	result, err := j.Service.UpdateOverduePayments(ctx)
	if err != nil {
		j.log(TaskRoyaltySweep).Error("sweep overdue payments", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddFindings("overdue", result.Updated)
	j.metrics().AddFindings("sweep_failure", result.Failed)
	j.log(TaskRoyaltySweep).Info("overdue sweep run",
		slog.Int("checked", result.Checked),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed))
	return tracker.End(nil)
}

func (j *BillingJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *BillingJob) log(job string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}
