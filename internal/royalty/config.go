package royalty

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/shared"
)

// SetConfig creates or replaces the royalty agreement of a branch. Updating an existing
// config appends one audit entry per changed field and re-activates it.
func (s *Service) SetConfig(ctx context.Context, branchID int64, params ConfigParams, actor int64, reason string) (Config, error) {
	if actor <= 0 {
		return Config{}, shared.ErrUnauthorized
	}
	if branchID <= 0 {
		return Config{}, shared.Validationf("branch id required")
	}
	if err := validateParams(params); err != nil {
		return Config{}, err
	}
	if s.branches != nil {
		exists, err := s.branches.Exists(ctx, branchID)
		if err != nil {
			return Config{}, fmt.Errorf("%w: branch directory: %v", shared.ErrExternalDependency, err)
		}
		if !exists {
			return Config{}, ErrBranchNotFound
		}
	}

	now := s.now()
	var (
		saved   Config
		changes []ConfigAuditEntry
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetConfigByBranchForUpdate(ctx, branchID)
		switch {
		case err == nil:
		case isNotFound(err):
			cfg := newConfig(branchID, params, actor, now)
			if err := checkDestination(ctx, tx, cfg.Destination); err != nil {
				return err
			}
			if err := tx.InsertConfig(ctx, cfg); err != nil {
				return err
			}
			saved, created = cfg, true
			return nil
		default:
			return err
		}

		next := applyParams(existing, params)
		if !existing.IsActive {
			next.ActiveSince = now
		}
		next.IsActive = true
		next.UpdatedAt = now
		if next.Destination != existing.Destination {
			if err := checkDestination(ctx, tx, next.Destination); err != nil {
				return err
			}
		}
		changes = diffConfig(existing, next, actor, reason, now)
		if len(changes) == 0 {
			saved = existing
			return nil
		}
		if err := tx.UpdateConfig(ctx, next); err != nil {
			return err
		}
		if err := tx.InsertAuditEntries(ctx, changes); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return Config{}, err
	}
	action := "royalty.config.update"
	if created {
		action = "royalty.config.create"
	}
	s.record(ctx, actor, action, "royalty_config", saved.ID.String(), map[string]any{
		"branch_id": branchID,
		"changes":   len(changes),
		"reason":    reason,
	})
	s.logger.Info("royalty config saved", slog.Int64("branch_id", branchID), slog.Bool("created", created), slog.Int("changes", len(changes)))
	return saved, nil
}

// DeactivateConfig stops billing a branch. History and payments stay.
func (s *Service) DeactivateConfig(ctx context.Context, branchID int64, actor int64, reason string) (Config, error) {
	if actor <= 0 {
		return Config{}, shared.ErrUnauthorized
	}
	now := s.now()
	var saved Config
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cfg, err := tx.GetConfigByBranchForUpdate(ctx, branchID)
		if err != nil {
			return err
		}
		if !cfg.IsActive {
			return shared.Transitionf("royalty: config already inactive")
		}
		next := cfg
		next.IsActive = false
		next.UpdatedAt = now
		if err := tx.UpdateConfig(ctx, next); err != nil {
			return err
		}
		if err := tx.InsertAuditEntries(ctx, diffConfig(cfg, next, actor, reason, now)); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return Config{}, err
	}
	s.record(ctx, actor, "royalty.config.deactivate", "royalty_config", saved.ID.String(), map[string]any{"branch_id": branchID, "reason": reason})
	return saved, nil
}

// DeleteConfig removes a config that never produced payments.
func (s *Service) DeleteConfig(ctx context.Context, configID uuid.UUID, actor int64) error {
	if actor <= 0 {
		return shared.ErrUnauthorized
	}
	var branchID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cfg, err := tx.GetConfig(ctx, configID)
		if err != nil {
			return err
		}
		branchID = cfg.BranchID
		n, err := tx.CountPaymentsByBranch(ctx, cfg.BranchID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrConfigHasPayments
		}
		return tx.DeleteConfig(ctx, configID)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actor, "royalty.config.delete", "royalty_config", configID.String(), map[string]any{"branch_id": branchID})
	return nil
}

// GetConfig returns the config of a branch.
func (s *Service) GetConfig(ctx context.Context, branchID int64) (Config, error) {
	var cfg Config
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cfg, err = tx.GetConfigByBranch(ctx, branchID)
		return err
	})
	return cfg, err
}

// ListConfigs returns configs decorated with branch names.
func (s *Service) ListConfigs(ctx context.Context, activeOnly bool) ([]ConfigView, error) {
	var configs []Config
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		configs, err = tx.ListConfigs(ctx, activeOnly)
		return err
	})
	if err != nil {
		return nil, err
	}
	views := make([]ConfigView, 0, len(configs))
	for _, cfg := range configs {
		name, code := s.branchLabel(ctx, cfg.BranchID)
		views = append(views, ConfigView{Config: cfg, BranchName: name, BranchCode: code})
	}
	return views, nil
}

// ListAuditTrail returns the field-level history of a config, oldest first.
func (s *Service) ListAuditTrail(ctx context.Context, configID uuid.UUID) ([]ConfigAuditEntry, error) {
	var entries []ConfigAuditEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetConfig(ctx, configID); err != nil {
			return err
		}
		var err error
		entries, err = tx.ListAuditEntries(ctx, configID)
		return err
	})
	return entries, err
}

func validateParams(p ConfigParams) error {
	if err := shared.ValidateStruct(p); err != nil {
		return err
	}
	if !p.Rate.IsPositive() {
		return shared.Validationf("rate must be greater than zero")
	}
	if p.RoyaltyType == RoyaltyPercentage && p.Rate.GreaterThan(hundred) {
		return shared.Validationf("percentage rate cannot exceed 100")
	}
	if p.LateFeeRate != nil && (p.LateFeeRate.IsNegative() || p.LateFeeRate.GreaterThan(hundred)) {
		return shared.Validationf("late fee rate must be between 0 and 100")
	}
	if p.Destination != nil {
		if err := p.Destination.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func newConfig(branchID int64, p ConfigParams, actor int64, now time.Time) Config {
	cfg := Config{
		ID:              uuid.New(),
		BranchID:        branchID,
		BillingDay:      defaultBillingDay,
		GracePeriodDays: defaultGraceDays,
		LateFeeRate:     decimal.Zero,
		Destination:     ledger.None(),
		IsActive:        true,
		ActiveSince:     now,
		CreatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return applyParams(cfg, p)
}

func applyParams(cfg Config, p ConfigParams) Config {
	cfg.RoyaltyType = p.RoyaltyType
	cfg.Rate = p.Rate
	cfg.BillingCycle = p.BillingCycle
	if p.BillingDay != nil {
		cfg.BillingDay = *p.BillingDay
	}
	if p.GracePeriodDays != nil {
		cfg.GracePeriodDays = *p.GracePeriodDays
	}
	if p.LateFeeRate != nil {
		cfg.LateFeeRate = *p.LateFeeRate
	}
	if p.Destination != nil {
		cfg.Destination = *p.Destination
	}
	if p.Notes != nil {
		cfg.Notes = *p.Notes
	}
	return cfg
}

func checkDestination(ctx context.Context, tx TxRepository, dest ledger.Destination) error {
	return ledger.CheckSettlementTarget(ctx, tx.Ledger(), dest)
}

// diffConfig produces one audit entry per field that differs between old and next.
func diffConfig(old, next Config, actor int64, reason string, at time.Time) []ConfigAuditEntry {
	type field struct {
		name     string
		old, new string
	}
	fields := []field{
		{"royalty_type", string(old.RoyaltyType), string(next.RoyaltyType)},
		{"rate", old.Rate.String(), next.Rate.String()},
		{"billing_cycle", string(old.BillingCycle), string(next.BillingCycle)},
		{"billing_day", strconv.Itoa(old.BillingDay), strconv.Itoa(next.BillingDay)},
		{"grace_period_days", strconv.Itoa(old.GracePeriodDays), strconv.Itoa(next.GracePeriodDays)},
		{"late_fee_rate", old.LateFeeRate.String(), next.LateFeeRate.String()},
		{"destination", old.Destination.String(), next.Destination.String()},
		{"notes", old.Notes, next.Notes},
		{"is_active", strconv.FormatBool(old.IsActive), strconv.FormatBool(next.IsActive)},
		{"active_since", formatInstant(old.ActiveSince), formatInstant(next.ActiveSince)},
	}
	var entries []ConfigAuditEntry
	for _, f := range fields {
		if f.old == f.new {
			continue
		}
		entries = append(entries, ConfigAuditEntry{
			ID:        uuid.New(),
			ConfigID:  old.ID,
			BranchID:  old.BranchID,
			Field:     f.name,
			OldValue:  f.old,
			NewValue:  f.new,
			Actor:     actor,
			Reason:    reason,
			ChangedAt: at,
		})
	}
	return entries
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
