// Package vouchers validates, numbers and transitions branch vouchers.
package vouchers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// EntryType is the side of a voucher line.
type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

// Opposite returns the other side.
func (e EntryType) Opposite() EntryType {
	if e == Debit {
		return Credit
	}
	return Debit
}

// Status is the voucher lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusVerified  Status = "VERIFIED"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusVerified, StatusCancelled},
	StatusVerified: {StatusPosted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Voucher types used by derived vouchers.
const (
	TypeJournal  = "JOURNAL"
	TypeSaving   = "SAVING"
	TypeFD       = "FD"
	TypeReversal = "REVERSAL"

	SubTypeDeposit    = "DEPOSIT"
	SubTypeWithdrawal = "WITHDRAWAL"
	SubTypeInterest   = "INTEREST"
)

// Head codes for interest legs.
const (
	HeadInterestExpense = "INT_EXP"
	HeadInterestPayable = "INT_PAY"
)

// Voucher is a transaction header with its lines.
type Voucher struct {
	ID             int64      `json:"id"`
	BranchID       int64      `json:"branch_id"`
	VoucherNo      int64      `json:"voucher_no"`
	VoucherType    string     `json:"voucher_type"`
	VoucherSubType string     `json:"voucher_sub_type,omitempty"`
	VoucherDate    time.Time  `json:"voucher_date"`
	ValueDate      time.Time  `json:"value_date"`
	Narration      string     `json:"narration"`
	Status         Status     `json:"status"`
	AddedBy        int64      `json:"added_by"`
	ModifiedBy     *int64     `json:"modified_by,omitempty"`
	VerifiedBy     *int64     `json:"verified_by,omitempty"`
	PostedBy       *int64     `json:"posted_by,omitempty"`
	PostedAt       *time.Time `json:"posted_at,omitempty"`
	ReversalOf     *int64     `json:"reversal_of,omitempty"`
	SourceRef      uuid.UUID  `json:"source_ref"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines"`
}

// Line is one debit or credit leg.
type Line struct {
	ID          int64           `json:"id"`
	BranchID    int64           `json:"branch_id"`
	VoucherID   int64           `json:"voucher_id"`
	AccountID   int64           `json:"account_id"`
	HeadCode    string          `json:"head_code"`
	Amount      decimal.Decimal `json:"amount"`
	EntryType   EntryType       `json:"entry_type"`
	EntryStatus Status          `json:"entry_status"`
	ValueDate   time.Time       `json:"value_date"`
	SeqNo       int             `json:"seq_no"`
}

// Totals returns the debit and credit sums.
func Totals(lines []Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		switch l.EntryType {
		case Debit:
			debit = debit.Add(l.Amount)
		case Credit:
			credit = credit.Add(l.Amount)
		}
	}
	return debit, credit
}

// Balanced reports whether debits equal credits to the minor unit.
func Balanced(lines []Line) bool {
	debit, credit := Totals(lines)
	return shared.RoundAmount(debit).Equal(shared.RoundAmount(credit))
}

// LineInput describes a line on creation.
type LineInput struct {
	BranchID  int64           `json:"branch_id" validate:"gt=0"`
	AccountID int64           `json:"account_id" validate:"gt=0"`
	HeadCode  string          `json:"head_code" validate:"required,max=32"`
	Amount    decimal.Decimal `json:"amount"`
	EntryType EntryType       `json:"entry_type" validate:"required,oneof=DEBIT CREDIT"`
}

// CreateInput is the payload for CreateVoucher.
type CreateInput struct {
	BranchID       int64       `json:"branch_id" validate:"gt=0"`
	VoucherType    string      `json:"voucher_type" validate:"required,max=32"`
	VoucherSubType string      `json:"voucher_sub_type" validate:"max=32"`
	VoucherDate    time.Time   `json:"voucher_date"`
	ValueDate      time.Time   `json:"value_date"`
	Narration      string      `json:"narration" validate:"max=500"`
	UserID         int64       `json:"-" validate:"gt=0"`
	AllowBackdated bool        `json:"-"`
	ReversalOf     *int64      `json:"-"`
	IdempotencyKey string      `json:"-" validate:"max=128"`
	SourceRef      uuid.UUID   `json:"source_ref"`
	Lines          []LineInput `json:"lines" validate:"dive"`
}

// Direction of a savings cash transaction.
type Direction string

const (
	Deposit    Direction = "DEPOSIT"
	Withdrawal Direction = "WITHDRAWAL"
)

// SavingTxnInput describes a cash deposit to or withdrawal from a savings account.
type SavingTxnInput struct {
	BranchID        int64           `json:"branch_id" validate:"gt=0"`
	ProductID       int64           `json:"product_id" validate:"gt=0"`
	SavingAccountID int64           `json:"saving_account_id" validate:"gt=0"`
	SavingHeadCode  string          `json:"saving_head_code" validate:"required,max=32"`
	Amount          decimal.Decimal `json:"amount"`
	Direction       Direction       `json:"direction" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Narration       string          `json:"narration" validate:"max=500"`
	UserID          int64           `json:"-" validate:"gt=0"`
	IdempotencyKey  string          `json:"-" validate:"max=128"`
}

// SavingInterestInput describes an interest credit to a savings account.
type SavingInterestInput struct {
	BranchID        int64           `json:"branch_id" validate:"gt=0"`
	ProductID       int64           `json:"product_id" validate:"gt=0"`
	SavingAccountID int64           `json:"saving_account_id" validate:"gt=0"`
	SavingHeadCode  string          `json:"saving_head_code" validate:"required,max=32"`
	Balance         decimal.Decimal `json:"balance"`
	Days            int             `json:"days" validate:"gt=0"`
	UserID          int64           `json:"-" validate:"gt=0"`
	IdempotencyKey  string          `json:"-" validate:"max=128"`
}

// FDInterestInput describes an interest accrual on a fixed deposit.
type FDInterestInput struct {
	BranchID       int64           `json:"branch_id" validate:"gt=0"`
	ProductID      int64           `json:"product_id" validate:"gt=0"`
	Principal      decimal.Decimal `json:"principal"`
	DepositDate    time.Time       `json:"deposit_date"`
	TenorDays      int             `json:"tenor_days" validate:"gt=0"`
	AgeYears       int             `json:"age_years" validate:"gte=0"`
	Days           int             `json:"days" validate:"gt=0"`
	UserID         int64           `json:"-" validate:"gt=0"`
	IdempotencyKey string          `json:"-" validate:"max=128"`
}

// DayBalanceIssue reports a voucher whose stored lines no longer balance.
type DayBalanceIssue struct {
	VoucherID int64           `json:"voucher_id"`
	VoucherNo int64           `json:"voucher_no"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}
