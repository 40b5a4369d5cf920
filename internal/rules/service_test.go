package rules

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

type memoryRuleRepo struct {
	mu       sync.Mutex
	fd       map[Key]FDRule
	saving   map[Key]SavingRule
	settings map[int64]BranchSettings
	nextID   int64
}

func newMemoryRuleRepo() *memoryRuleRepo {
	return &memoryRuleRepo{
		fd:       map[Key]FDRule{},
		saving:   map[Key]SavingRule{},
		settings: map[int64]BranchSettings{},
	}
}

func notFound(key Key) error {
	return fmt.Errorf("%w: branch %d product %d", shared.ErrNotFound, key.BranchID, key.ProductID)
}

func (r *memoryRuleRepo) GetFDRule(_ context.Context, key Key) (FDRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.fd[key]
	if !ok {
		return FDRule{}, notFound(key)
	}
	return rule, nil
}

func (r *memoryRuleRepo) GetSavingRule(_ context.Context, key Key) (SavingRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.saving[key]
	if !ok {
		return SavingRule{}, notFound(key)
	}
	return rule, nil
}

func (r *memoryRuleRepo) InsertFDRule(_ context.Context, in FDRule) (FDRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fd[in.RuleKey()]; ok {
		return FDRule{}, shared.ErrDuplicateRule
	}
	r.nextID++
	in.ID = r.nextID
	r.fd[in.RuleKey()] = in
	return in, nil
}

func (r *memoryRuleRepo) UpdateFDRule(_ context.Context, in FDRule) (FDRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rule := range r.fd {
		if rule.ID == in.ID {
			delete(r.fd, key)
			r.fd[in.RuleKey()] = in
			return in, nil
		}
	}
	return FDRule{}, notFound(in.RuleKey())
}

func (r *memoryRuleRepo) InsertSavingRule(_ context.Context, in SavingRule) (SavingRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.saving[in.RuleKey()]; ok {
		return SavingRule{}, shared.ErrDuplicateRule
	}
	r.nextID++
	in.ID = r.nextID
	r.saving[in.RuleKey()] = in
	return in, nil
}

func (r *memoryRuleRepo) UpdateSavingRule(_ context.Context, in SavingRule) (SavingRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rule := range r.saving {
		if rule.ID == in.ID {
			delete(r.saving, key)
			r.saving[in.RuleKey()] = in
			return in, nil
		}
	}
	return SavingRule{}, notFound(in.RuleKey())
}

func (r *memoryRuleRepo) GetBranchSettings(_ context.Context, branchID int64) (BranchSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[branchID]
	if !ok {
		return BranchSettings{}, shared.ErrNotFound
	}
	return s, nil
}

func (r *memoryRuleRepo) UpsertBranchSettings(_ context.Context, in BranchSettings) (BranchSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[in.BranchID] = in
	return in, nil
}

func fdRule(branchID, productID int64) FDRule {
	return FDRule{
		BranchID:            branchID,
		ProductID:           productID,
		CalculationMethod:   MethodSimple,
		CompoundingInterval: CompoundingQuarterly,
		ExpenseAccountID:    5100,
		PayableAccountID:    2100,
		ClosingAccountID:    2200,
	}
}

func TestUpsertAndGetFDRule(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRuleRepo(), nil)

	saved, err := svc.UpsertRule(ctx, fdRule(1, 7))
	require.NoError(t, err)
	fd, ok := saved.(FDRule)
	require.True(t, ok)
	require.NotZero(t, fd.ID)

	got, err := svc.GetFDRule(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, fd, got)

	_, err = svc.GetFDRule(ctx, 2, 7)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpsertRuleRejectsDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRuleRepo(), nil)

	_, err := svc.UpsertRule(ctx, fdRule(1, 7))
	require.NoError(t, err)
	_, err = svc.UpsertRule(ctx, fdRule(1, 7))
	require.ErrorIs(t, err, shared.ErrDuplicateRule)

	// Same product on another branch is a separate key.
	_, err = svc.UpsertRule(ctx, fdRule(2, 7))
	require.NoError(t, err)
}

func TestUpsertRuleUpdatesByID(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRuleRepo(), nil)

	saved, err := svc.UpsertRule(ctx, fdRule(1, 7))
	require.NoError(t, err)
	rule := saved.(FDRule)
	rule.CalculationMethod = MethodCompound

	updated, err := svc.UpsertRule(ctx, &rule)
	require.NoError(t, err)
	assert.Equal(t, MethodCompound, updated.(FDRule).CalculationMethod)

	other, err := svc.UpsertRule(ctx, fdRule(1, 8))
	require.NoError(t, err)
	moved := other.(FDRule)
	moved.ProductID = 7
	_, err = svc.UpsertRule(ctx, moved)
	require.ErrorIs(t, err, shared.ErrDuplicateRule)
}

func TestSavingRuleLimits(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRuleRepo(), nil)

	rule := SavingRule{
		BranchID:            1,
		ProductID:           3,
		CalculationMethod:   MethodDailyBalance,
		ExpenseAccountID:    5200,
		PayableAccountID:    2300,
		ClosingAccountID:    2400,
		MinimumBalance:      decimal.NewFromInt(500),
		MaxWithdrawalAmount: decimal.NewFromInt(10000),
	}
	_, err := svc.UpsertRule(ctx, rule)
	require.NoError(t, err)

	got, err := svc.GetSavingRule(ctx, 1, 3)
	require.NoError(t, err)
	assert.True(t, got.WithdrawalAllowed(decimal.NewFromInt(10000)))
	assert.False(t, got.WithdrawalAllowed(decimal.RequireFromString("10000.01")))

	rule.ProductID = 4
	rule.MinimumBalance = decimal.NewFromInt(-1)
	_, err = svc.UpsertRule(ctx, rule)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpsertRuleValidation(t *testing.T) {
	svc := NewService(newMemoryRuleRepo(), nil)
	bad := fdRule(1, 7)
	bad.CalculationMethod = MethodDailyBalance
	_, err := svc.UpsertRule(context.Background(), bad)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.UpsertRule(context.Background(), nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestBranchSettings(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryRuleRepo(), nil)

	_, err := svc.GetBranchSettings(ctx, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.UpsertBranchSettings(ctx, BranchSettings{BranchID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	saved, err := svc.UpsertBranchSettings(ctx, BranchSettings{BranchID: 1, AutoVerify: true, CashAccountID: 1000, CashHeadCode: "CASH"})
	require.NoError(t, err)
	got, err := svc.GetBranchSettings(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}
