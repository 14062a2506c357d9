package royalty_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/royalty"
	"github.com/odyssey-erp/royalty/internal/shared"
)

type memoryGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *memoryGuard) CheckAndInsert(_ context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys == nil {
		g.keys = make(map[string]bool)
	}
	if g.keys[module+"/"+key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[module+"/"+key] = true
	return nil
}

func (g *memoryGuard) Delete(_ context.Context, key, module string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, module+"/"+key)
	return nil
}

func newRouter(f *fixture, guard royalty.IdempotencyGuard) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	royalty.NewHandler(logger, f.svc, guard).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerConfigureBillAndSettle(t *testing.T) {
	f := newFixture(t)
	guard := &memoryGuard{}
	h := newRouter(f, guard)

	rec := doJSON(t, h, http.MethodPut, "/royalty/branches/1/config", map[string]any{
		"royalty_type":      "percentage",
		"rate":              "10",
		"billing_cycle":     "monthly",
		"grace_period_days": 7,
		"late_fee_rate":     "5",
		"destination":       "sales_cash",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cfg royalty.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	require.Equal(t, "sales_cash", cfg.Destination.String())

	f.revenue.Set(makati, day(2025, 1, 1), dec("100000"))
	f.clock = day(2025, 2, 1)
	rec = doJSON(t, h, http.MethodPost, "/royalty/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var gen royalty.GenerateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gen))
	require.Equal(t, 1, gen.Created)

	paymentID := f.store.Payments()[0].ID
	payPath := "/royalty/payments/" + paymentID.String() + "/pay"
	rec = doJSON(t, h, http.MethodPost, payPath, map[string]any{
		"paid_amount":    "10000",
		"payment_method": "bank_transfer",
	}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var settled royalty.SettleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settled))
	require.Equal(t, "OR-2025-00001", settled.Receipt.ReceiptNumber)
	require.NotNil(t, settled.Posting)

	rec = doJSON(t, h, http.MethodPost, payPath, map[string]any{
		"paid_amount":    "10000",
		"payment_method": "bank_transfer",
	}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "idempotency key already used")

	rec = doJSON(t, h, http.MethodPost, payPath, map[string]any{
		"paid_amount":    "10000",
		"payment_method": "bank_transfer",
	}, "Idempotency-Key", "pay-2")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already paid")

	// the failed attempt releases its key
	rec = doJSON(t, h, http.MethodPost, payPath, map[string]any{
		"paid_amount":    "10000",
		"payment_method": "bank_transfer",
	}, "Idempotency-Key", "pay-2")
	require.Contains(t, rec.Body.String(), "already paid")

	rec = doJSON(t, h, http.MethodGet, "/royalty/payments?status=paid&branch_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Payments []royalty.PaymentView `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Payments, 1)
	require.Equal(t, "Makati", listed.Payments[0].BranchName)

	rec = doJSON(t, h, http.MethodGet, "/royalty/receipts/"+settled.Receipt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	h := newRouter(f, nil)

	rec := doJSON(t, h, http.MethodPost, "/royalty/payments/not-a-uuid/pay", map[string]any{"paid_amount": "1", "payment_method": "cash"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/royalty/payments/"+p.ID.String()+"/waive", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = doJSON(t, h, http.MethodPut, "/royalty/branches/1/config", map[string]any{"royalty_type": "percentage", "rate": "10", "billing_cycle": "weekly"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/royalty/branches/1/config", map[string]any{"royalty_type": "percentage", "rate": "10", "billing_cycle": "monthly", "colour": "red"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/royalty/branches/77/config", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/royalty/branches/1/generate", map[string]any{"period_start": "2025-01-01"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerWaiveAndPending(t *testing.T) {
	f := newFixture(t)
	p := januaryScenario(t, f)
	h := newRouter(f, nil)

	rec := doJSON(t, h, http.MethodGet, "/royalty/payments/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), p.ID.String())

	rec = doJSON(t, h, http.MethodPost, "/royalty/payments/"+p.ID.String()+"/waive", map[string]any{"notes": "goodwill"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var waived royalty.Payment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &waived))
	require.Equal(t, royalty.StatusWaived, waived.Status)
	require.Nil(t, waived.PaidAmount)

	rec = doJSON(t, h, http.MethodGet, "/royalty/payments/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), p.ID.String())
}
