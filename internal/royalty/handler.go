package royalty

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/ledger"
	"github.com/odyssey-erp/royalty/internal/platform/httpx"
	"github.com/odyssey-erp/royalty/internal/shared"
)

const idempotencyModule = "royalty.pay"

type royaltyService interface {
	SetConfig(ctx context.Context, branchID int64, params ConfigParams, actor int64, reason string) (Config, error)
	DeactivateConfig(ctx context.Context, branchID int64, actor int64, reason string) (Config, error)
	DeleteConfig(ctx context.Context, configID uuid.UUID, actor int64) error
	GetConfig(ctx context.Context, branchID int64) (Config, error)
	ListConfigs(ctx context.Context, activeOnly bool) ([]ConfigView, error)
	ListAuditTrail(ctx context.Context, configID uuid.UUID) ([]ConfigAuditEntry, error)
	GenerateAll(ctx context.Context, actor int64) (GenerateResult, error)
	GenerateForBranch(ctx context.Context, branchID int64, actor int64, override *PeriodOverride) (BranchResult, error)
	UpdateOverduePayments(ctx context.Context) (SweepResult, error)
	MarkAsPaid(ctx context.Context, in SettleInput) (SettleResult, error)
	Waive(ctx context.Context, in WaiveInput) (Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (PaymentView, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]PaymentView, error)
	PendingPayments(ctx context.Context, branchID int64) ([]PaymentView, error)
	GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error)
	ListReceipts(ctx context.Context, branchID int64, limit int) ([]Receipt, error)
	SendDueNotice(ctx context.Context, paymentID uuid.UUID, actor int64) error
	CleanOrphanedData(ctx context.Context, actor int64) (CleanupResult, error)
}

// IdempotencyGuard claims request keys so a retried settlement is applied once.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes royalty billing over JSON.
type Handler struct {
	logger      *slog.Logger
	service     royaltyService
	idempotency IdempotencyGuard
}

// NewHandler constructs a royalty HTTP handler. guard may be nil.
func NewHandler(logger *slog.Logger, service royaltyService, guard IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, idempotency: guard}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/royalty", func(r chi.Router) {
		r.Get("/configs", h.listConfigs)
		r.Get("/configs/{configID}/audit", h.auditTrail)
		r.Delete("/configs/{configID}", h.deleteConfig)
		r.Get("/branches/{branchID}/config", h.getConfig)
		r.Put("/branches/{branchID}/config", h.setConfig)
		r.Post("/branches/{branchID}/config/deactivate", h.deactivateConfig)
		r.Post("/branches/{branchID}/generate", h.generateForBranch)

		r.Post("/generate", h.generateAll)
		r.Post("/sweep", h.sweep)
		r.Post("/cleanup", h.cleanup)

		r.Get("/payments", h.listPayments)
		r.Get("/payments/pending", h.pendingPayments)
		r.Get("/payments/{id}", h.getPayment)
		r.Post("/payments/{id}/pay", h.markAsPaid)
		r.Post("/payments/{id}/waive", h.waive)
		r.Post("/payments/{id}/notify", h.sendDueNotice)

		r.Get("/receipts", h.listReceipts)
		r.Get("/receipts/{id}", h.getReceipt)
	})
}

type configRequest struct {
	RoyaltyType     string              `json:"royalty_type" validate:"required,oneof=percentage fixed"`
	Rate            decimal.Decimal     `json:"rate"`
	BillingCycle    string              `json:"billing_cycle" validate:"required,oneof=monthly quarterly annually"`
	BillingDay      *int                `json:"billing_day"`
	GracePeriodDays *int                `json:"grace_period_days"`
	LateFeeRate     *decimal.Decimal    `json:"late_fee_rate"`
	Destination     *ledger.Destination `json:"destination"`
	Notes           *string             `json:"notes"`
	Reason          string              `json:"reason" validate:"max=500"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type generateRequest struct {
	PeriodStart string `json:"period_start" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
	Label       string `json:"label" validate:"max=64"`
}

type payRequest struct {
	PaidAmount       decimal.Decimal     `json:"paid_amount"`
	PaymentMethod    string              `json:"payment_method" validate:"required,max=64"`
	PaymentReference string              `json:"payment_reference" validate:"max=128"`
	Notes            string              `json:"notes" validate:"max=1000"`
	Destination      *ledger.Destination `json:"destination"`
}

type waiveRequest struct {
	Notes string `json:"notes" validate:"required,max=1000"`
}

func (h *Handler) listConfigs(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))
	configs, err := h.service.ListConfigs(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, "list configs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"configs": configs})
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "configID")
	if !ok {
		return
	}
	entries, err := h.service.ListAuditTrail(r.Context(), id)
	if err != nil {
		h.fail(w, "list audit trail", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) deleteConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "configID")
	if !ok {
		return
	}
	if err := h.service.DeleteConfig(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete config", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}
	cfg, err := h.service.GetConfig(r.Context(), branchID)
	if err != nil {
		h.fail(w, "get config", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) setConfig(w http.ResponseWriter, r *http.Request) {
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}
	var req configRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cfg, err := h.service.SetConfig(r.Context(), branchID, ConfigParams{
		RoyaltyType:     RoyaltyType(req.RoyaltyType),
		Rate:            req.Rate,
		BillingCycle:    BillingCycle(req.BillingCycle),
		BillingDay:      req.BillingDay,
		GracePeriodDays: req.GracePeriodDays,
		LateFeeRate:     req.LateFeeRate,
		Destination:     req.Destination,
		Notes:           req.Notes,
	}, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, "set config", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) deactivateConfig(w http.ResponseWriter, r *http.Request) {
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	cfg, err := h.service.DeactivateConfig(r.Context(), branchID, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, "deactivate config", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

func (h *Handler) generateForBranch(w http.ResponseWriter, r *http.Request) {
	branchID, ok := parseBranchID(w, r)
	if !ok {
		return
	}
	var req generateRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	if (req.PeriodStart == "") != (req.PeriodEnd == "") {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "period_start and period_end go together")
		return
	}
	var override *PeriodOverride
	if req.PeriodStart != "" {
		start, _ := time.Parse(time.DateOnly, req.PeriodStart)
		end, _ := time.Parse(time.DateOnly, req.PeriodEnd)
		override = &PeriodOverride{Start: start, End: end, Label: req.Label}
	}
	result, err := h.service.GenerateForBranch(r.Context(), branchID, shared.ActorFromContext(r.Context()), override)
	if err != nil {
		h.fail(w, "generate for branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) generateAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.GenerateAll(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "generate all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if shared.ActorFromContext(r.Context()) <= 0 {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	result, err := h.service.UpdateOverduePayments(r.Context())
	if err != nil {
		h.fail(w, "sweep overdue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.CleanOrphanedData(r.Context(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "clean orphaned data", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter PaymentFilter
	if raw := q.Get("branch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid branch_id")
			return
		}
		filter.BranchID = id
	}
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, PaymentStatus(strings.TrimSpace(st)))
		}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	payments, err := h.service.ListPayments(r.Context(), filter)
	if err != nil {
		h.fail(w, "list payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) pendingPayments(w http.ResponseWriter, r *http.Request) {
	branchID, _ := strconv.ParseInt(r.URL.Query().Get("branch_id"), 10, 64)
	payments, err := h.service.PendingPayments(r.Context(), branchID)
	if err != nil {
		h.fail(w, "pending payments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	payment, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.fail(w, "get payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) markAsPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req payRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "idempotency key already used")
				return
			}
			h.fail(w, "claim idempotency key", err)
			return
		}
	}
	result, err := h.service.MarkAsPaid(r.Context(), SettleInput{
		PaymentID:        id,
		PaidAmount:       req.PaidAmount,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
		Notes:            req.Notes,
		Destination:      req.Destination,
		Actor:            shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key, idempotencyModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", derr))
			}
		}
		h.fail(w, "mark as paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) waive(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req waiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.Waive(r.Context(), WaiveInput{PaymentID: id, Notes: req.Notes, Actor: shared.ActorFromContext(r.Context())})
	if err != nil {
		h.fail(w, "waive payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, payment)
}

func (h *Handler) sendDueNotice(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.SendDueNotice(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "send due notice", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	receipts, err := h.service.ListReceipts(r.Context(), branchID, limit)
	if err != nil {
		h.fail(w, "list receipts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.fail(w, "get receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func parseBranchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "branchID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid branch id")
		return 0, false
	}
	return id, true
}
