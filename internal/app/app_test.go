package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/royalty/internal/observability"
	"github.com/odyssey-erp/royalty/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GENERATE_CRON", "15 2 * * *")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "Asia/Manila", cfg.BillingTimezone)
	require.Equal(t, 12, cfg.BillingMaxBackfill)
	require.Equal(t, 10*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, "15 2 * * *", cfg.GenerateCron)
	require.Equal(t, int64(1), cfg.SystemActor)
	require.Equal(t, "Asia/Manila", cfg.Location().String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("BILLING_TIMEZONE", "Mars/Olympus")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("BILLING_TIMEZONE", "UTC")
	t.Setenv("SYSTEM_ACTOR", "0")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	h := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/royalty/generate", nil)
	req.Header.Set(ActorHeader, " 42 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(42), seen)

	seen = -1
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/royalty/payments", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Zero(t, seen)

	for _, bad := range []string{"abc", "-3", "0"} {
		req = httptest.NewRequest(http.MethodPost, "/royalty/generate", nil)
		req.Header.Set(ActorHeader, bad)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	cfg := &Config{AppRequestTimeout: time.Second, RateLimitPerMinute: 2}
	router := NewRouter(RouterParams{Config: cfg, Metrics: observability.NewMetrics()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `royalty_http_requests_total{code="200",route="/healthz"} 1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
