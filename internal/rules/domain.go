package rules

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// CalculationMethod enumerates how interest accrues on a product.
type CalculationMethod string

const (
	MethodSimple            CalculationMethod = "SIMPLE"
	MethodCompound          CalculationMethod = "COMPOUND"
	MethodDailyBalance      CalculationMethod = "DAILY_BALANCE"
	MethodMinimumMonthlyBal CalculationMethod = "MIN_MONTHLY_BALANCE"
)

// CompoundingInterval enumerates compounding frequencies.
type CompoundingInterval string

const (
	CompoundingNone      CompoundingInterval = "NONE"
	CompoundingMonthly   CompoundingInterval = "MONTHLY"
	CompoundingQuarterly CompoundingInterval = "QUARTERLY"
	CompoundingHalfYear  CompoundingInterval = "HALF_YEARLY"
	CompoundingYearly    CompoundingInterval = "YEARLY"
)

// Key identifies a rule row.
type Key struct {
	BranchID  int64
	ProductID int64
}

// Rule is implemented by FDRule and SavingRule.
type Rule interface {
	RuleKey() Key
	validate() error
}

// FDRule is the branch-wise configuration for a fixed deposit product.
type FDRule struct {
	ID                  int64               `json:"id"`
	BranchID            int64               `json:"branch_id" validate:"gt=0"`
	ProductID           int64               `json:"product_id" validate:"gt=0"`
	CalculationMethod   CalculationMethod   `json:"calculation_method" validate:"required,oneof=SIMPLE COMPOUND"`
	CompoundingInterval CompoundingInterval `json:"compounding_interval" validate:"required,oneof=NONE MONTHLY QUARTERLY HALF_YEARLY YEARLY"`
	ExpenseAccountID    int64               `json:"expense_account_id" validate:"gt=0"`
	PayableAccountID    int64               `json:"payable_account_id" validate:"gt=0"`
	ClosingAccountID    int64               `json:"closing_account_id" validate:"gt=0"`
}

// RuleKey implements Rule.
func (r FDRule) RuleKey() Key { return Key{BranchID: r.BranchID, ProductID: r.ProductID} }

func (r FDRule) validate() error {
	if err := validate.Struct(r); err != nil {
		return shared.Invalid("fd rule: %v", err)
	}
	return nil
}

// SavingRule is the branch-wise configuration for a savings product.
type SavingRule struct {
	ID                  int64             `json:"id"`
	BranchID            int64             `json:"branch_id" validate:"gt=0"`
	ProductID           int64             `json:"product_id" validate:"gt=0"`
	CalculationMethod   CalculationMethod `json:"calculation_method" validate:"required,oneof=SIMPLE DAILY_BALANCE MIN_MONTHLY_BALANCE"`
	ExpenseAccountID    int64             `json:"expense_account_id" validate:"gt=0"`
	PayableAccountID    int64             `json:"payable_account_id" validate:"gt=0"`
	ClosingAccountID    int64             `json:"closing_account_id" validate:"gt=0"`
	MinimumBalance      decimal.Decimal   `json:"minimum_balance"`
	MaxWithdrawalAmount decimal.Decimal   `json:"max_withdrawal_amount"`
	MaxWithdrawalsMonth int               `json:"max_withdrawals_month" validate:"gte=0"`
}

// RuleKey implements Rule.
func (r SavingRule) RuleKey() Key { return Key{BranchID: r.BranchID, ProductID: r.ProductID} }

func (r SavingRule) validate() error {
	if err := validate.Struct(r); err != nil {
		return shared.Invalid("saving rule: %v", err)
	}
	if r.MinimumBalance.Sign() < 0 || r.MaxWithdrawalAmount.Sign() < 0 {
		return shared.Invalid("saving rule: limits cannot be negative")
	}
	return nil
}

// WithdrawalAllowed reports whether amount respects the per-transaction limit.
func (r SavingRule) WithdrawalAllowed(amount decimal.Decimal) bool {
	return r.MaxWithdrawalAmount.IsZero() || amount.LessThanOrEqual(r.MaxWithdrawalAmount)
}

// BranchSettings holds per-branch posting behaviour.
type BranchSettings struct {
	BranchID       int64  `json:"branch_id" validate:"gt=0"`
	AutoVerify     bool   `json:"auto_verify"`
	AllowBackdated bool   `json:"allow_backdated"`
	CashAccountID  int64  `json:"cash_account_id" validate:"gt=0"`
	CashHeadCode   string `json:"cash_head_code" validate:"required,max=32"`
}

// Validate checks settings shape.
func (s BranchSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return shared.Invalid("branch settings: %v", err)
	}
	return nil
}
