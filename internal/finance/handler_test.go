package finance_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/finance"
	"github.com/odyssey-erp/royalty/internal/shared"
)

func newRouter(f *fixture, actorID int64) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if actorID > 0 {
				ctx = shared.ContextWithActor(ctx, actorID)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	finance.NewHandler(logger, f.svc, nil).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandlerReports(t *testing.T) {
	f := newFixture(t, true)
	seedFebruary(t, f)
	h := newRouter(f, actor)

	rec := doJSON(t, h, http.MethodGet, "/finance/pl?start=2025-02-01&end=2025-02-28", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pl := decode[finance.PLSummary](t, rec)
	requireDec(t, "21000", pl.TotalRevenue)
	requireDec(t, "16000", pl.NetIncome)

	rec = doJSON(t, h, http.MethodGet, "/finance/pl?start=2025-02-01&end=2025/02/28", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/pl?start=2025-03-01&end=2025-02-01", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/balance-sheet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bs := decode[finance.BalanceSheet](t, rec)
	require.True(t, bs.IsBalanced)
	requireDec(t, "3000", bs.RoyaltyReceivables)

	rec = doJSON(t, h, http.MethodGet, "/finance/ledger/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[finance.LedgerCheck](t, rec).Consistent)

	rec = doJSON(t, h, http.MethodGet, "/finance/royalty-income?start=2025-02-01&end=2025-02-28", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[finance.RoyaltyIncomeSummary](t, rec)
	requireDec(t, "17500", sum.TotalCollected)
	requireDec(t, "3000", sum.TotalPending)
}

func TestHandlerPeriodLifecycle(t *testing.T) {
	f := newFixture(t, false)
	h := newRouter(f, actor)

	rec := doJSON(t, h, http.MethodPost, "/finance/periods", map[string]any{
		"name":        "February 2025",
		"period_type": "monthly",
		"start_date":  "2025-02-01",
		"end_date":    "2025-02-28",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	feb := decode[finance.AccountingPeriod](t, rec)
	require.Equal(t, finance.PeriodOpen, feb.Status)
	require.True(t, endOf(2025, 2, 28).Equal(feb.EndDate), feb.EndDate.String())

	rec = doJSON(t, h, http.MethodPost, "/finance/periods", map[string]any{
		"name":        "Late February",
		"period_type": "monthly",
		"start_date":  "2025-02-28",
		"end_date":    "2025-03-27",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/finance/periods", map[string]any{
		"name":        "Bad dates",
		"period_type": "monthly",
		"start_date":  "March 1",
		"end_date":    "2025-03-31",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/periods/current?at=2025-02-28", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, feb.ID, decode[finance.AccountingPeriod](t, rec).ID)

	rec = doJSON(t, h, http.MethodPost, "/finance/periods/"+feb.ID.String()+"/reopen", map[string]any{"reason": "typo"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/finance/periods/"+feb.ID.String()+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[finance.AccountingPeriod](t, rec)
	require.Equal(t, finance.PeriodClosed, closed.Status)
	require.NotNil(t, closed.Snapshot)

	rec = doJSON(t, h, http.MethodDelete, "/finance/periods/"+feb.ID.String(), nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/finance/periods/"+feb.ID.String()+"/reopen", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/finance/periods/"+feb.ID.String()+"/reopen", map[string]any{"reason": "missed invoice"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "missed invoice", decode[finance.AccountingPeriod](t, rec).ReopenReason)

	rec = doJSON(t, h, http.MethodGet, "/finance/periods?status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Periods []finance.AccountingPeriod `json:"periods"`
	}](t, rec)
	require.Len(t, list.Periods, 1)

	rec = doJSON(t, h, http.MethodDelete, "/finance/periods/"+feb.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/periods/"+feb.ID.String(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/periods/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerComparePeriods(t *testing.T) {
	f := newFixture(t, false)
	h := newRouter(f, actor)
	feb := createMonth(t, f, "February 2025", time.February)
	mar := createMonth(t, f, "March 2025", time.March)

	rec := doJSON(t, h, http.MethodGet, "/finance/periods/compare?a=nope&b="+mar.ID.String(), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	url := "/finance/periods/compare?a=" + feb.ID.String() + "&b=" + mar.ID.String()
	rec = doJSON(t, h, http.MethodGet, url, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	for _, id := range []string{feb.ID.String(), mar.ID.String()} {
		rec = doJSON(t, h, http.MethodPost, "/finance/periods/"+id+"/close", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cmp := decode[finance.PeriodComparison](t, rec)
	require.Equal(t, feb.ID, cmp.First.ID)
	require.Equal(t, mar.ID, cmp.Second.ID)
	require.True(t, cmp.NetIncome.Change.IsZero())
}

func TestHandlerRequiresActorForPeriodChanges(t *testing.T) {
	f := newFixture(t, false)
	h := newRouter(f, 0)

	rec := doJSON(t, h, http.MethodPost, "/finance/periods", map[string]any{
		"name":        "February 2025",
		"period_type": "monthly",
		"start_date":  "2025-02-01",
		"end_date":    "2025-02-28",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/finance/balance-sheet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
