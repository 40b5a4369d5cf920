package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/observability"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/vouchers"
	_ "github.com/odyssey-erp/branch-ledger/testing"
)

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LEDGER_LOCK_BACKEND", LockBackendLocal)
	cfg, err := LoadConfig(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 999, cfg.FDMaxAgeSentinel)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.True(t, cfg.DayEndIntegrityJob)
	assert.Equal(t, cfg.RedisAddr, cfg.Redis().Addr)
	assert.Equal(t, cfg.PGDSN, cfg.Postgres().DSN)
}

func TestLoadConfigRejectsInvalidCombinations(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown lock backend": {"LEDGER_LOCK_BACKEND": "etcd"},
		"local lock in prod":   {"LEDGER_LOCK_BACKEND": LockBackendLocal, "APP_ENV": "production"},
		"zero sentinel":        {"LEDGER_LOCK_BACKEND": LockBackendLocal, "FD_MAX_AGE_SENTINEL": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(noEnvFile(t))
			require.Error(t, err)
		})
	}
}

func TestInTestMode(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func TestNewBranchLockFallsBackToLocal(t *testing.T) {
	lock := NewBranchLock(&Config{LedgerLockBackend: LockBackendRedis}, nil)
	_, ok := lock.(*shared.LocalBranchLock)
	assert.True(t, ok)
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := NewRouter(RouterParams{
		Config:         &Config{RateLimitPerMinute: 1000},
		VoucherHandler: vouchers.NewHandler(nil, nil),
		Metrics:        metrics,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/vouchers?date=2024-03-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ledger_http_requests_total"))
}
