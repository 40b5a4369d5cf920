package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/branch-ledger/internal/observability"
	"github.com/odyssey-erp/branch-ledger/internal/rules"
	"github.com/odyssey-erp/branch-ledger/internal/session"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/slabs"
	"github.com/odyssey-erp/branch-ledger/internal/vouchers"
)

// Services bundles the ledger components shared by the API and the worker.
type Services struct {
	Sessions *session.Service
	Rules    *rules.Service
	Rates    *slabs.Resolver
	Vouchers *vouchers.Service
}

// NewBranchLock picks the lock backend named in configuration.
func NewBranchLock(cfg *Config, client *redis.Client) shared.BranchLedgerLock {
	if cfg.LedgerLockBackend == LockBackendLocal || client == nil {
		return shared.NewLocalBranchLock()
	}
	return shared.NewRedisBranchLock(client, cfg.LedgerLockTTL, cfg.LedgerLockRetry, cfg.LedgerLockTTL)
}

// NewServices wires repositories and services over one pool and lock.
func NewServices(cfg *Config, pool *pgxpool.Pool, lock shared.BranchLedgerLock, metrics *observability.Metrics, logger *slog.Logger) *Services {
	audit := shared.NewAuditLogger(pool)

	ruleService := rules.NewService(rules.NewRepository(pool), logger)
	resolver := slabs.NewResolver(slabs.NewRepository(pool), ruleService, logger,
		slabs.WithMaxAgeSentinel(cfg.FDMaxAgeSentinel),
		slabs.WithRecorder(metrics),
	)

	sessions := session.NewService(session.NewRepository(pool), lock, audit, logger)
	sessions.WithRecorder(metrics)

	voucherService := vouchers.NewService(vouchers.NewRepository(pool), sessions, ruleService, resolver, lock, audit, logger)
	voucherService.WithRecorder(metrics)
	voucherService.WithIdempotency(shared.NewIdempotencyStore(pool))

	return &Services{
		Sessions: sessions,
		Rules:    ruleService,
		Rates:    resolver,
		Vouchers: voucherService,
	}
}
