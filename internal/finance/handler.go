package finance

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/royalty/internal/platform/httpx"
	"github.com/odyssey-erp/royalty/internal/shared"
)

type financeService interface {
	PLSummary(ctx context.Context, start, end time.Time) (PLSummary, error)
	BalanceSheet(ctx context.Context) (BalanceSheet, error)
	VerifyLedger(ctx context.Context) (LedgerCheck, error)
	RoyaltyIncomeSummary(ctx context.Context, start, end time.Time) (RoyaltyIncomeSummary, error)
	CreatePeriod(ctx context.Context, in CreatePeriodInput) (AccountingPeriod, error)
	ClosePeriod(ctx context.Context, in ClosePeriodInput) (AccountingPeriod, error)
	ReopenPeriod(ctx context.Context, in ReopenPeriodInput) (AccountingPeriod, error)
	DeletePeriod(ctx context.Context, id uuid.UUID, actor int64) error
	GetPeriod(ctx context.Context, id uuid.UUID) (AccountingPeriod, error)
	ListPeriods(ctx context.Context, status PeriodStatus, limit int) ([]AccountingPeriod, error)
	CurrentPeriod(ctx context.Context, at time.Time) (AccountingPeriod, error)
	ComparePeriods(ctx context.Context, firstID, secondID uuid.UUID) (PeriodComparison, error)
}

// Handler exposes financial reports and accounting periods over JSON.
type Handler struct {
	logger   *slog.Logger
	service  financeService
	location *time.Location
}

// NewHandler constructs a finance HTTP handler. Query dates are read in loc.
func NewHandler(logger *slog.Logger, service financeService, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, location: loc}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/finance", func(r chi.Router) {
		r.Get("/pl", h.plSummary)
		r.Get("/balance-sheet", h.balanceSheet)
		r.Get("/ledger/verify", h.verifyLedger)
		r.Get("/royalty-income", h.royaltyIncome)

		r.Get("/periods", h.listPeriods)
		r.Post("/periods", h.createPeriod)
		r.Get("/periods/current", h.currentPeriod)
		r.Get("/periods/compare", h.comparePeriods)
		r.Get("/periods/{id}", h.getPeriod)
		r.Post("/periods/{id}/close", h.closePeriod)
		r.Post("/periods/{id}/reopen", h.reopenPeriod)
		r.Delete("/periods/{id}", h.deletePeriod)
	})
}

type periodRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	PeriodType string `json:"period_type" validate:"required,oneof=monthly quarterly yearly"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Notes      string `json:"notes" validate:"max=1000"`
}

type closeRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

func (h *Handler) plSummary(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	pl, err := h.service.PLSummary(r.Context(), start, end)
	if err != nil {
		h.fail(w, "pl summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	bs, err := h.service.BalanceSheet(r.Context())
	if err != nil {
		h.fail(w, "balance sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	check, err := h.service.VerifyLedger(r.Context())
	if err != nil {
		h.fail(w, "verify ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) royaltyIncome(w http.ResponseWriter, r *http.Request) {
	start, end, ok := h.parseRange(w, r)
	if !ok {
		return
	}
	summary, err := h.service.RoyaltyIncomeSummary(r.Context(), start, end)
	if err != nil {
		h.fail(w, "royalty income summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	periods, err := h.service.ListPeriods(r.Context(), PeriodStatus(q.Get("status")), limit)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	start, _ := time.ParseInLocation(time.DateOnly, req.StartDate, h.location)
	end, _ := time.ParseInLocation(time.DateOnly, req.EndDate, h.location)
	period, err := h.service.CreatePeriod(r.Context(), CreatePeriodInput{
		Name:       req.Name,
		PeriodType: PeriodType(req.PeriodType),
		StartDate:  start,
		EndDate:    endOfDay(end),
		Notes:      req.Notes,
		Actor:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) currentPeriod(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.ParseInLocation(time.DateOnly, raw, h.location)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "at must be YYYY-MM-DD")
			return
		}
		at = parsed
	}
	period, err := h.service.CurrentPeriod(r.Context(), at)
	if err != nil {
		h.fail(w, "current period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	period, err := h.service.GetPeriod(r.Context(), id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) comparePeriods(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	first, err := uuid.Parse(q.Get("a"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period a")
		return
	}
	second, err := uuid.Parse(q.Get("b"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid period b")
		return
	}
	cmp, err := h.service.ComparePeriods(r.Context(), first, second)
	if err != nil {
		h.fail(w, "compare periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cmp)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	period, err := h.service.ClosePeriod(r.Context(), ClosePeriodInput{
		PeriodID: id,
		Notes:    req.Notes,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.ReopenPeriod(r.Context(), ReopenPeriodInput{
		PeriodID: id,
		Reason:   req.Reason,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "reopen period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) deletePeriod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeletePeriod(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange reads start and end as inclusive calendar days.
func (h *Handler) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	start, err := time.ParseInLocation(time.DateOnly, q.Get("start"), h.location)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "start must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.ParseInLocation(time.DateOnly, q.Get("end"), h.location)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "end must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	return start, endOfDay(end), true
}

func endOfDay(day time.Time) time.Time {
	return day.AddDate(0, 0, 1).Add(-time.Microsecond)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("finance request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}
