package slabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/branch-ledger/internal/rules"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Repository loads rate tables. Tables are maintained by master-data administration.
type Repository interface {
	LoadFDTable(ctx context.Context, branchID, productID int64) (FDTable, error)
	LoadSavingTable(ctx context.Context, branchID, productID int64) (SavingTable, error)
}

// RuleSource supplies product rule metadata for quotes.
type RuleSource interface {
	GetFDRule(ctx context.Context, branchID, productID int64) (rules.FDRule, error)
	GetSavingRule(ctx context.Context, branchID, productID int64) (rules.SavingRule, error)
}

// Recorder observes resolution outcomes.
type Recorder interface {
	ObserveRateResolution(kind string, found bool)
}

// Resolver answers rate lookups against the current table state.
type Resolver struct {
	repo     Repository
	rules    RuleSource
	logger   *slog.Logger
	maxAge   int
	group    singleflight.Group
	recorder Recorder
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithMaxAgeSentinel overrides the open-ended age tier marker.
func WithMaxAgeSentinel(age int) Option {
	return func(r *Resolver) {
		if age > 0 {
			r.maxAge = age
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// NewResolver constructs a Resolver. ruleSource may be nil when quotes are not needed.
func NewResolver(repo Repository, ruleSource RuleSource, logger *slog.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{repo: repo, rules: ruleSource, logger: logger, maxAge: DefaultMaxAgeSentinel}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveFDRate returns the FD interest rate in percent.
func (r *Resolver) ResolveFDRate(ctx context.Context, q FDQuery) (decimal.Decimal, error) {
	quote, err := r.fdQuote(ctx, q)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Rate, nil
}

// ResolveSavingRate returns the savings interest rate in percent.
func (r *Resolver) ResolveSavingRate(ctx context.Context, q SavingQuery) (decimal.Decimal, error) {
	quote, err := r.savingQuote(ctx, q)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.Rate, nil
}

// ResolveFDQuote returns the rate together with slab and rule metadata.
func (r *Resolver) ResolveFDQuote(ctx context.Context, q FDQuery) (Quote, error) {
	quote, err := r.fdQuote(ctx, q)
	if err != nil {
		return Quote{}, err
	}
	if r.rules != nil {
		rule, err := r.rules.GetFDRule(ctx, q.BranchID, q.ProductID)
		switch {
		case err == nil:
			quote.CalculationMethod = rule.CalculationMethod
			if quote.CompoundingInterval == "" {
				quote.CompoundingInterval = rule.CompoundingInterval
			}
		case !errors.Is(err, shared.ErrNotFound):
			return Quote{}, err
		}
	}
	return quote, nil
}

// ResolveSavingQuote returns the rate together with slab and rule metadata.
func (r *Resolver) ResolveSavingQuote(ctx context.Context, q SavingQuery) (Quote, error) {
	quote, err := r.savingQuote(ctx, q)
	if err != nil {
		return Quote{}, err
	}
	if r.rules != nil {
		rule, err := r.rules.GetSavingRule(ctx, q.BranchID, q.ProductID)
		switch {
		case err == nil:
			quote.CalculationMethod = rule.CalculationMethod
		case !errors.Is(err, shared.ErrNotFound):
			return Quote{}, err
		}
	}
	return quote, nil
}

func (r *Resolver) fdQuote(ctx context.Context, q FDQuery) (Quote, error) {
	if err := q.validate(); err != nil {
		return Quote{}, err
	}
	key := fmt.Sprintf("fd:%d:%d", q.BranchID, q.ProductID)
	v, err := r.load(ctx, key, func(ctx context.Context) (any, error) {
		return r.repo.LoadFDTable(ctx, q.BranchID, q.ProductID)
	})
	if err != nil {
		return Quote{}, err
	}
	quote, err := resolveFD(v.(FDTable), q, r.maxAge)
	r.observe("fd", err)
	if err != nil {
		r.logger.Debug("fd rate not resolved",
			slog.Int64("branch_id", q.BranchID),
			slog.Int64("product_id", q.ProductID),
			slog.Int("tenor_days", q.TenorDays),
			slog.Int("age_years", q.AgeYears))
		return Quote{}, err
	}
	return quote, nil
}

func (r *Resolver) savingQuote(ctx context.Context, q SavingQuery) (Quote, error) {
	if err := q.validate(); err != nil {
		return Quote{}, err
	}
	key := fmt.Sprintf("saving:%d:%d", q.BranchID, q.ProductID)
	v, err := r.load(ctx, key, func(ctx context.Context) (any, error) {
		return r.repo.LoadSavingTable(ctx, q.BranchID, q.ProductID)
	})
	if err != nil {
		return Quote{}, err
	}
	quote, err := resolveSaving(v.(SavingTable), q)
	r.observe("saving", err)
	if err != nil {
		return Quote{}, err
	}
	quote.CompoundingInterval = rules.CompoundingNone
	return quote, nil
}

// load collapses concurrent table loads for key. The shared load is detached
// from the caller's cancellation so one abandoned request cannot fail the rest.
func (r *Resolver) load(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	resultChan := r.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.Val, res.Err
	}
}

func (r *Resolver) observe(kind string, err error) {
	if r.recorder != nil {
		r.recorder.ObserveRateResolution(kind, err == nil)
	}
}
