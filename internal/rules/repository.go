package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const uniqueViolation = "23505"

// PgRepository stores rules in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const fdColumns = `id, branch_id, product_id, calculation_method, compounding_interval,
	expense_account_id, payable_account_id, closing_account_id`

const savingColumns = `id, branch_id, product_id, calculation_method,
	expense_account_id, payable_account_id, closing_account_id,
	minimum_balance, max_withdrawal_amount, max_withdrawals_month`

func scanFD(row pgx.Row) (FDRule, error) {
	var r FDRule
	err := row.Scan(&r.ID, &r.BranchID, &r.ProductID, &r.CalculationMethod, &r.CompoundingInterval,
		&r.ExpenseAccountID, &r.PayableAccountID, &r.ClosingAccountID)
	return r, err
}

func scanSaving(row pgx.Row) (SavingRule, error) {
	var r SavingRule
	err := row.Scan(&r.ID, &r.BranchID, &r.ProductID, &r.CalculationMethod,
		&r.ExpenseAccountID, &r.PayableAccountID, &r.ClosingAccountID,
		&r.MinimumBalance, &r.MaxWithdrawalAmount, &r.MaxWithdrawalsMonth)
	return r, err
}

func mapErr(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s branch %d product %d", shared.ErrNotFound, op, key.BranchID, key.ProductID)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: branch %d product %d", shared.ErrDuplicateRule, key.BranchID, key.ProductID)
	}
	return shared.WrapStorage(op, err)
}

// GetFDRule loads the FD rule for key.
func (r *PgRepository) GetFDRule(ctx context.Context, key Key) (FDRule, error) {
	rule, err := scanFD(r.pool.QueryRow(ctx,
		`SELECT `+fdColumns+` FROM fd_rule WHERE branch_id = $1 AND product_id = $2`,
		key.BranchID, key.ProductID))
	return rule, mapErr("fd rule", key, err)
}

// GetSavingRule loads the savings rule for key.
func (r *PgRepository) GetSavingRule(ctx context.Context, key Key) (SavingRule, error) {
	rule, err := scanSaving(r.pool.QueryRow(ctx,
		`SELECT `+savingColumns+` FROM saving_rule WHERE branch_id = $1 AND product_id = $2`,
		key.BranchID, key.ProductID))
	return rule, mapErr("saving rule", key, err)
}

// InsertFDRule creates an FD rule.
func (r *PgRepository) InsertFDRule(ctx context.Context, in FDRule) (FDRule, error) {
	rule, err := scanFD(r.pool.QueryRow(ctx, `INSERT INTO fd_rule (branch_id, product_id, calculation_method,
	compounding_interval, expense_account_id, payable_account_id, closing_account_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING `+fdColumns,
		in.BranchID, in.ProductID, in.CalculationMethod, in.CompoundingInterval,
		in.ExpenseAccountID, in.PayableAccountID, in.ClosingAccountID))
	return rule, mapErr("insert fd rule", in.RuleKey(), err)
}

// UpdateFDRule rewrites an FD rule by id.
func (r *PgRepository) UpdateFDRule(ctx context.Context, in FDRule) (FDRule, error) {
	rule, err := scanFD(r.pool.QueryRow(ctx, `UPDATE fd_rule SET branch_id = $2, product_id = $3,
	calculation_method = $4, compounding_interval = $5, expense_account_id = $6,
	payable_account_id = $7, closing_account_id = $8, updated_at = NOW()
WHERE id = $1
RETURNING `+fdColumns,
		in.ID, in.BranchID, in.ProductID, in.CalculationMethod, in.CompoundingInterval,
		in.ExpenseAccountID, in.PayableAccountID, in.ClosingAccountID))
	return rule, mapErr("update fd rule", in.RuleKey(), err)
}

// InsertSavingRule creates a savings rule.
func (r *PgRepository) InsertSavingRule(ctx context.Context, in SavingRule) (SavingRule, error) {
	rule, err := scanSaving(r.pool.QueryRow(ctx, `INSERT INTO saving_rule (branch_id, product_id, calculation_method,
	expense_account_id, payable_account_id, closing_account_id,
	minimum_balance, max_withdrawal_amount, max_withdrawals_month)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING `+savingColumns,
		in.BranchID, in.ProductID, in.CalculationMethod,
		in.ExpenseAccountID, in.PayableAccountID, in.ClosingAccountID,
		in.MinimumBalance, in.MaxWithdrawalAmount, in.MaxWithdrawalsMonth))
	return rule, mapErr("insert saving rule", in.RuleKey(), err)
}

// UpdateSavingRule rewrites a savings rule by id.
func (r *PgRepository) UpdateSavingRule(ctx context.Context, in SavingRule) (SavingRule, error) {
	rule, err := scanSaving(r.pool.QueryRow(ctx, `UPDATE saving_rule SET branch_id = $2, product_id = $3,
	calculation_method = $4, expense_account_id = $5, payable_account_id = $6,
	closing_account_id = $7, minimum_balance = $8, max_withdrawal_amount = $9,
	max_withdrawals_month = $10, updated_at = NOW()
WHERE id = $1
RETURNING `+savingColumns,
		in.ID, in.BranchID, in.ProductID, in.CalculationMethod,
		in.ExpenseAccountID, in.PayableAccountID, in.ClosingAccountID,
		in.MinimumBalance, in.MaxWithdrawalAmount, in.MaxWithdrawalsMonth))
	return rule, mapErr("update saving rule", in.RuleKey(), err)
}

// GetBranchSettings loads settings for a branch.
func (r *PgRepository) GetBranchSettings(ctx context.Context, branchID int64) (BranchSettings, error) {
	var s BranchSettings
	err := r.pool.QueryRow(ctx, `SELECT branch_id, auto_verify, allow_backdated, cash_account_id, cash_head_code
FROM branch_settings WHERE branch_id = $1`, branchID).
		Scan(&s.BranchID, &s.AutoVerify, &s.AllowBackdated, &s.CashAccountID, &s.CashHeadCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return BranchSettings{}, fmt.Errorf("%w: settings for branch %d", shared.ErrNotFound, branchID)
	}
	return s, shared.WrapStorage("branch settings", err)
}

// UpsertBranchSettings writes settings for a branch.
func (r *PgRepository) UpsertBranchSettings(ctx context.Context, in BranchSettings) (BranchSettings, error) {
	var s BranchSettings
	err := r.pool.QueryRow(ctx, `INSERT INTO branch_settings (branch_id, auto_verify, allow_backdated, cash_account_id, cash_head_code)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (branch_id) DO UPDATE SET auto_verify = EXCLUDED.auto_verify,
	allow_backdated = EXCLUDED.allow_backdated, cash_account_id = EXCLUDED.cash_account_id,
	cash_head_code = EXCLUDED.cash_head_code, updated_at = NOW()
RETURNING branch_id, auto_verify, allow_backdated, cash_account_id, cash_head_code`,
		in.BranchID, in.AutoVerify, in.AllowBackdated, in.CashAccountID, in.CashHeadCode).
		Scan(&s.BranchID, &s.AutoVerify, &s.AllowBackdated, &s.CashAccountID, &s.CashHeadCode)
	return s, shared.WrapStorage("upsert branch settings", err)
}
