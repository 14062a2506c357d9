package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/royalty/internal/platform/httpx"
	"github.com/odyssey-erp/royalty/internal/shared"
)

type ledgerService interface {
	RegisterAsset(ctx context.Context, in RegisterAssetInput) (Account, error)
	DeactivateAsset(ctx context.Context, id AccountID, actor int64) error
	DeclareLiability(ctx context.Context, in DeclareLiabilityInput) (Account, error)
	UpdateAccount(ctx context.Context, id AccountID, in AccountUpdate) (Account, error)
	RepayLiability(ctx context.Context, id AccountID, in LiabilityMovementInput) (Posting, error)
	DrawLiability(ctx context.Context, id AccountID, in LiabilityMovementInput) (Posting, error)
	DeactivateLiability(ctx context.Context, id AccountID, actor int64) error
	ListAccounts(ctx context.Context) ([]Account, error)
	ListDestinations(ctx context.Context, currentOnly bool) ([]DestinationOption, error)
	ListPostings(ctx context.Context, filter PostingFilter) ([]Posting, error)
	RecordRevenue(ctx context.Context, in RevenueInput) (RevenueEntry, error)
	UpdateRevenue(ctx context.Context, id uuid.UUID, in RevenueUpdate) (RevenueEntry, error)
	DeleteRevenue(ctx context.Context, id uuid.UUID, actor int64) error
	ListRevenue(ctx context.Context, filter EntryFilter) ([]RevenueEntry, error)
	RecordExpense(ctx context.Context, in ExpenseInput) (ExpenseEntry, error)
	UpdateExpense(ctx context.Context, id uuid.UUID, in ExpenseUpdate) (ExpenseEntry, error)
	DeleteExpense(ctx context.Context, id uuid.UUID, actor int64) error
	ListExpenses(ctx context.Context, filter EntryFilter) ([]ExpenseEntry, error)
	RecordEquity(ctx context.Context, in EquityInput) (EquityEntry, error)
	UpdateEquity(ctx context.Context, id uuid.UUID, in EquityUpdate) (EquityEntry, error)
	DeleteEquity(ctx context.Context, id uuid.UUID, actor int64) error
	ListEquity(ctx context.Context, filter EntryFilter) ([]EquityEntry, error)
}

// Handler exposes the ledger registry and manual entries over JSON.
type Handler struct {
	logger  *slog.Logger
	service ledgerService
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(logger *slog.Logger, service ledgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/accounts", h.listAccounts)
		r.Get("/destinations", h.listDestinations)
		r.Get("/postings", h.listPostings)
		r.Post("/assets", h.registerAsset)
		r.Post("/assets/{id}/deactivate", h.deactivateAsset)
		r.Patch("/accounts/{id}", h.updateAccount)
		r.Post("/liabilities", h.declareLiability)
		r.Post("/liabilities/{id}/repay", h.repayLiability)
		r.Post("/liabilities/{id}/draw", h.drawLiability)
		r.Post("/liabilities/{id}/deactivate", h.deactivateLiability)

		r.Get("/revenue", h.listRevenue)
		r.Post("/revenue", h.createRevenue)
		r.Patch("/revenue/{id}", h.updateRevenue)
		r.Delete("/revenue/{id}", h.deleteRevenue)

		r.Get("/expenses", h.listExpenses)
		r.Post("/expenses", h.createExpense)
		r.Patch("/expenses/{id}", h.updateExpense)
		r.Delete("/expenses/{id}", h.deleteExpense)

		r.Get("/equity", h.listEquity)
		r.Post("/equity", h.createEquity)
		r.Patch("/equity/{id}", h.updateEquity)
		r.Delete("/equity/{id}", h.deleteEquity)
	})
}

type assetRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	AssetClass string `json:"asset_class" validate:"required,oneof=current fixed intangible"`
	Notes      string `json:"notes"`
}

type liabilityRequest struct {
	Name     string          `json:"name" validate:"required,max=120"`
	Amount   decimal.Decimal `json:"amount"`
	FundedTo Destination     `json:"funded_to"`
	Notes    string          `json:"notes"`
}

type accountPatch struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

type liabilityMovementRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Account Destination     `json:"account"`
	Memo    string          `json:"memo"`
}

type equityRequest struct {
	Kind        string          `json:"kind" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	EntryDate   string          `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Notes       string          `json:"notes"`
	Account     Destination     `json:"account"`
}

type equityPatch struct {
	Kind        *string          `json:"kind"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	EntryDate   *string          `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string          `json:"notes"`
	Account     *Destination     `json:"account"`
}

type revenueRequest struct {
	Category    string          `json:"category" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	EntryDate   string          `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Notes       string          `json:"notes"`
	Destination Destination     `json:"destination"`
}

type revenuePatch struct {
	Category    *string          `json:"category"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	EntryDate   *string          `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string          `json:"notes"`
	Destination *Destination     `json:"destination"`
}

type expenseRequest struct {
	Category     string          `json:"category" validate:"required"`
	ExpenseType  string          `json:"expense_type" validate:"required"`
	Description  string          `json:"description" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	EntryDate    string          `json:"entry_date" validate:"required,datetime=2006-01-02"`
	IsRecurring  bool            `json:"is_recurring"`
	RecurringDay int             `json:"recurring_day"`
	Notes        string          `json:"notes"`
	Source       Destination     `json:"source"`
}

type expensePatch struct {
	Category    *string          `json:"category"`
	ExpenseType *string          `json:"expense_type"`
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	EntryDate   *string          `json:"entry_date" validate:"omitempty,datetime=2006-01-02"`
	Notes       *string          `json:"notes"`
	Source      *Destination     `json:"source"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		h.fail(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) listDestinations(w http.ResponseWriter, r *http.Request) {
	currentOnly, _ := strconv.ParseBool(r.URL.Query().Get("current_only"))
	options, err := h.service.ListDestinations(r.Context(), currentOnly)
	if err != nil {
		h.fail(w, "list destinations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"destinations": options})
}

func (h *Handler) listPostings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := PostingFilter{Kind: PostingKind(q.Get("kind")), Account: AccountID(q.Get("account"))}
	if raw := q.Get("source_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid source_id")
			return
		}
		filter.SourceID = id
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	postings, err := h.service.ListPostings(r.Context(), filter)
	if err != nil {
		h.fail(w, "list postings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"postings": postings})
}

func (h *Handler) registerAsset(w http.ResponseWriter, r *http.Request) {
	var req assetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.RegisterAsset(r.Context(), RegisterAssetInput{
		Name:       req.Name,
		AssetClass: AssetClass(req.AssetClass),
		Notes:      req.Notes,
		Actor:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "register asset", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) deactivateAsset(w http.ResponseWriter, r *http.Request) {
	id := AccountID(chi.URLParam(r, "id"))
	if err := h.service.DeactivateAsset(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "deactivate asset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) declareLiability(w http.ResponseWriter, r *http.Request) {
	var req liabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.DeclareLiability(r.Context(), DeclareLiabilityInput{
		Name:     req.Name,
		Amount:   req.Amount,
		FundedTo: req.FundedTo,
		Notes:    req.Notes,
		Actor:    shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "declare liability", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountPatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.UpdateAccount(r.Context(), AccountID(chi.URLParam(r, "id")), AccountUpdate{
		Name:  req.Name,
		Notes: req.Notes,
		Actor: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "update account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) repayLiability(w http.ResponseWriter, r *http.Request) {
	h.moveLiability(w, r, "repay liability", h.service.RepayLiability)
}

func (h *Handler) drawLiability(w http.ResponseWriter, r *http.Request) {
	h.moveLiability(w, r, "draw liability", h.service.DrawLiability)
}

func (h *Handler) moveLiability(w http.ResponseWriter, r *http.Request, op string, move func(context.Context, AccountID, LiabilityMovementInput) (Posting, error)) {
	var req liabilityMovementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	posting, err := move(r.Context(), AccountID(chi.URLParam(r, "id")), LiabilityMovementInput{
		Amount:  req.Amount,
		Account: req.Account,
		Memo:    req.Memo,
		Actor:   shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, posting)
}

func (h *Handler) deactivateLiability(w http.ResponseWriter, r *http.Request) {
	id := AccountID(chi.URLParam(r, "id"))
	if err := h.service.DeactivateLiability(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "deactivate liability", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listRevenue(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseEntryFilter(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListRevenue(r.Context(), filter)
	if err != nil {
		h.fail(w, "list revenue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) createRevenue(w http.ResponseWriter, r *http.Request) {
	var req revenueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.EntryDate)
	entry, err := h.service.RecordRevenue(r.Context(), RevenueInput{
		Category:    RevenueCategory(req.Category),
		Description: req.Description,
		Amount:      req.Amount,
		EntryDate:   date,
		Notes:       req.Notes,
		Destination: req.Destination,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "record revenue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) updateRevenue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req revenuePatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	update := RevenueUpdate{
		Description: req.Description,
		Amount:      req.Amount,
		Notes:       req.Notes,
		Destination: req.Destination,
		EntryDate:   parseDatePtr(req.EntryDate),
		Actor:       shared.ActorFromContext(r.Context()),
	}
	if req.Category != nil {
		c := RevenueCategory(*req.Category)
		update.Category = &c
	}
	entry, err := h.service.UpdateRevenue(r.Context(), id, update)
	if err != nil {
		h.fail(w, "update revenue", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteRevenue(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRevenue(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete revenue", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listExpenses(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseEntryFilter(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListExpenses(r.Context(), filter)
	if err != nil {
		h.fail(w, "list expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.EntryDate)
	entry, err := h.service.RecordExpense(r.Context(), ExpenseInput{
		Category:     ExpenseCategory(req.Category),
		ExpenseType:  ExpenseType(req.ExpenseType),
		Description:  req.Description,
		Amount:       req.Amount,
		EntryDate:    date,
		IsRecurring:  req.IsRecurring,
		RecurringDay: req.RecurringDay,
		Notes:        req.Notes,
		Source:       req.Source,
		Actor:        shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "record expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) updateExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req expensePatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	update := ExpenseUpdate{
		Description: req.Description,
		Amount:      req.Amount,
		Notes:       req.Notes,
		Source:      req.Source,
		EntryDate:   parseDatePtr(req.EntryDate),
		Actor:       shared.ActorFromContext(r.Context()),
	}
	if req.Category != nil {
		c := ExpenseCategory(*req.Category)
		update.Category = &c
	}
	if req.ExpenseType != nil {
		t := ExpenseType(*req.ExpenseType)
		update.ExpenseType = &t
	}
	entry, err := h.service.UpdateExpense(r.Context(), id, update)
	if err != nil {
		h.fail(w, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteExpense(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEquity(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseEntryFilter(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListEquity(r.Context(), filter)
	if err != nil {
		h.fail(w, "list equity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) createEquity(w http.ResponseWriter, r *http.Request) {
	var req equityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, _ := time.Parse(time.DateOnly, req.EntryDate)
	entry, err := h.service.RecordEquity(r.Context(), EquityInput{
		Kind:        EquityKind(req.Kind),
		Description: req.Description,
		Amount:      req.Amount,
		EntryDate:   date,
		Notes:       req.Notes,
		Account:     req.Account,
		Actor:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "record equity", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) updateEquity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req equityPatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	update := EquityUpdate{
		Description: req.Description,
		Amount:      req.Amount,
		Notes:       req.Notes,
		Account:     req.Account,
		EntryDate:   parseDatePtr(req.EntryDate),
		Actor:       shared.ActorFromContext(r.Context()),
	}
	if req.Kind != nil {
		k := EquityKind(*req.Kind)
		update.Kind = &k
	}
	entry, err := h.service.UpdateEquity(r.Context(), id, update)
	if err != nil {
		h.fail(w, "update equity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteEquity(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteEquity(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, "delete equity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func parseEntryFilter(w http.ResponseWriter, r *http.Request) (EntryFilter, bool) {
	var filter EntryFilter
	for key, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := r.URL.Query().Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+key+" date")
			return EntryFilter{}, false
		}
		*target = &t
	}
	return filter, true
}

func parseDatePtr(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	t, err := time.Parse(time.DateOnly, *raw)
	if err != nil {
		return nil
	}
	return &t
}
