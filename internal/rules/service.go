package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Repository persists product rules and branch settings.
type Repository interface {
	GetFDRule(ctx context.Context, key Key) (FDRule, error)
	GetSavingRule(ctx context.Context, key Key) (SavingRule, error)
	InsertFDRule(ctx context.Context, r FDRule) (FDRule, error)
	UpdateFDRule(ctx context.Context, r FDRule) (FDRule, error)
	InsertSavingRule(ctx context.Context, r SavingRule) (SavingRule, error)
	UpdateSavingRule(ctx context.Context, r SavingRule) (SavingRule, error)
	GetBranchSettings(ctx context.Context, branchID int64) (BranchSettings, error)
	UpsertBranchSettings(ctx context.Context, s BranchSettings) (BranchSettings, error)
}

// Service is the per-branch product rule store.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the rule store.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// GetFDRule returns the FD rule for branch and product.
func (s *Service) GetFDRule(ctx context.Context, branchID, productID int64) (FDRule, error) {
	return s.repo.GetFDRule(ctx, Key{BranchID: branchID, ProductID: productID})
}

// GetSavingRule returns the savings rule for branch and product.
func (s *Service) GetSavingRule(ctx context.Context, branchID, productID int64) (SavingRule, error) {
	return s.repo.GetSavingRule(ctx, Key{BranchID: branchID, ProductID: productID})
}

// UpsertRule inserts a rule when ID is zero, otherwise updates the identified row.
// Inserting a second rule for the same branch and product fails with ErrDuplicateRule.
func (s *Service) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	if rule == nil {
		return nil, shared.Invalid("rule required")
	}
	if err := rule.validate(); err != nil {
		return nil, err
	}
	var (
		saved Rule
		err   error
	)
	switch r := rule.(type) {
	case FDRule:
		saved, err = upsert(ctx, r, r.ID, s.repo.GetFDRule, s.repo.InsertFDRule, s.repo.UpdateFDRule)
	case *FDRule:
		saved, err = upsert(ctx, *r, r.ID, s.repo.GetFDRule, s.repo.InsertFDRule, s.repo.UpdateFDRule)
	case SavingRule:
		saved, err = upsert(ctx, r, r.ID, s.repo.GetSavingRule, s.repo.InsertSavingRule, s.repo.UpdateSavingRule)
	case *SavingRule:
		saved, err = upsert(ctx, *r, r.ID, s.repo.GetSavingRule, s.repo.InsertSavingRule, s.repo.UpdateSavingRule)
	default:
		return nil, shared.Invalid("unsupported rule type %T", rule)
	}
	if err != nil {
		return nil, err
	}
	key := saved.RuleKey()
	s.logger.Info("product rule saved",
		slog.String("type", fmt.Sprintf("%T", saved)),
		slog.Int64("branch_id", key.BranchID),
		slog.Int64("product_id", key.ProductID))
	return saved, nil
}

func upsert[T Rule](
	ctx context.Context,
	rule T,
	id int64,
	get func(context.Context, Key) (T, error),
	insert func(context.Context, T) (T, error),
	update func(context.Context, T) (T, error),
) (T, error) {
	var zero T
	existing, err := get(ctx, rule.RuleKey())
	switch {
	case err == nil:
		if id == 0 || ruleID(existing) != id {
			key := rule.RuleKey()
			return zero, fmt.Errorf("%w: branch %d product %d", shared.ErrDuplicateRule, key.BranchID, key.ProductID)
		}
	case !errors.Is(err, shared.ErrNotFound):
		return zero, err
	}
	if id == 0 {
		return insert(ctx, rule)
	}
	return update(ctx, rule)
}

func ruleID(r Rule) int64 {
	switch v := r.(type) {
	case FDRule:
		return v.ID
	case SavingRule:
		return v.ID
	}
	return 0
}

// GetBranchSettings returns posting settings for the branch.
func (s *Service) GetBranchSettings(ctx context.Context, branchID int64) (BranchSettings, error) {
	return s.repo.GetBranchSettings(ctx, branchID)
}

// UpsertBranchSettings stores posting settings for the branch.
func (s *Service) UpsertBranchSettings(ctx context.Context, settings BranchSettings) (BranchSettings, error) {
	if err := settings.Validate(); err != nil {
		return BranchSettings{}, err
	}
	return s.repo.UpsertBranchSettings(ctx, settings)
}
