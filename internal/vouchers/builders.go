package vouchers

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/branch-ledger/internal/rules"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/slabs"
)

var narrator = message.NewPrinter(language.English)

// formatAmount renders d with thousands separators without leaving decimal arithmetic.
func formatAmount(d decimal.Decimal) string {
	whole, frac, _ := strings.Cut(d.Abs().StringFixed(shared.AmountScale), ".")
	var b strings.Builder
	if d.Sign() < 0 {
		b.WriteByte('-')
	}
	for i := range len(whole) {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(whole[i])
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// BuildSavingDepositOrWithdrawalVoucher creates the two-leg cash voucher for a savings account.
// Deposits debit the branch cash account and credit the savings account; withdrawals do the reverse.
func (s *Service) BuildSavingDepositOrWithdrawalVoucher(ctx context.Context, in SavingTxnInput) (Voucher, error) {
	if err := validate.Struct(in); err != nil {
		return Voucher{}, shared.Invalid("saving transaction: %v", err)
	}
	if in.Amount.Sign() <= 0 {
		return Voucher{}, shared.Invalid("saving transaction: amount must be positive")
	}
	settings, err := s.rules.GetBranchSettings(ctx, in.BranchID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Voucher{}, shared.Invalid("branch %d has no default cash account", in.BranchID)
		}
		return Voucher{}, err
	}
	rule, err := s.rules.GetSavingRule(ctx, in.BranchID, in.ProductID)
	if err != nil {
		return Voucher{}, err
	}
	if in.Direction == Withdrawal && !rule.WithdrawalAllowed(in.Amount) {
		return Voucher{}, shared.Invalid("withdrawal %s exceeds limit %s",
			in.Amount.StringFixed(shared.AmountScale), rule.MaxWithdrawalAmount.StringFixed(shared.AmountScale))
	}

	cashSide, savingSide := Debit, Credit
	subType := SubTypeDeposit
	if in.Direction == Withdrawal {
		cashSide, savingSide = Credit, Debit
		subType = SubTypeWithdrawal
	}
	narration := in.Narration
	if narration == "" {
		narration = narrator.Sprintf("Saving %s of %s", subType, formatAmount(in.Amount))
	}
	return s.CreateVoucher(ctx, CreateInput{
		BranchID:       in.BranchID,
		VoucherType:    TypeSaving,
		VoucherSubType: subType,
		Narration:      narration,
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		SourceRef:      s.newRef(),
		Lines: []LineInput{
			{BranchID: in.BranchID, AccountID: settings.CashAccountID, HeadCode: settings.CashHeadCode, Amount: in.Amount, EntryType: cashSide},
			{BranchID: in.BranchID, AccountID: in.SavingAccountID, HeadCode: in.SavingHeadCode, Amount: in.Amount, EntryType: savingSide},
		},
	})
}

// BuildSavingInterestVoucher credits interest on a savings balance at the rate
// resolved for the working date, charging the product expense account.
func (s *Service) BuildSavingInterestVoucher(ctx context.Context, in SavingInterestInput) (Voucher, error) {
	if err := validate.Struct(in); err != nil {
		return Voucher{}, shared.Invalid("saving interest: %v", err)
	}
	if in.Balance.Sign() <= 0 {
		return Voucher{}, shared.Invalid("saving interest: balance must be positive")
	}
	working, err := s.workingDate(ctx, in.BranchID)
	if err != nil {
		return Voucher{}, err
	}
	rule, err := s.rules.GetSavingRule(ctx, in.BranchID, in.ProductID)
	if err != nil {
		return Voucher{}, err
	}
	rate, err := s.rates.ResolveSavingRate(ctx, slabs.SavingQuery{
		BranchID:  in.BranchID,
		ProductID: in.ProductID,
		AsOfDate:  working,
		Balance:   in.Balance,
	})
	if err != nil {
		return Voucher{}, err
	}
	interest := shared.SimpleInterest(in.Balance, rate, in.Days)
	if interest.IsZero() {
		return Voucher{}, shared.Invalid("saving interest: nothing to post")
	}
	return s.CreateVoucher(ctx, CreateInput{
		BranchID:       in.BranchID,
		VoucherType:    TypeSaving,
		VoucherSubType: SubTypeInterest,
		Narration:      interestNarration(rate, in.Balance, in.Days),
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		SourceRef:      s.newRef(),
		Lines: []LineInput{
			{BranchID: in.BranchID, AccountID: rule.ExpenseAccountID, HeadCode: HeadInterestExpense, Amount: interest, EntryType: Debit},
			{BranchID: in.BranchID, AccountID: in.SavingAccountID, HeadCode: in.SavingHeadCode, Amount: interest, EntryType: Credit},
		},
	})
}

// BuildFDInterestVoucher accrues FD interest from the expense account to the payable account.
func (s *Service) BuildFDInterestVoucher(ctx context.Context, in FDInterestInput) (Voucher, error) {
	if err := validate.Struct(in); err != nil {
		return Voucher{}, shared.Invalid("fd interest: %v", err)
	}
	if in.Principal.Sign() <= 0 || in.DepositDate.IsZero() {
		return Voucher{}, shared.Invalid("fd interest: principal and deposit date required")
	}
	rule, err := s.rules.GetFDRule(ctx, in.BranchID, in.ProductID)
	if err != nil {
		return Voucher{}, err
	}
	rate, err := s.rates.ResolveFDRate(ctx, slabs.FDQuery{
		BranchID:    in.BranchID,
		ProductID:   in.ProductID,
		DepositDate: in.DepositDate,
		TenorDays:   in.TenorDays,
		AgeYears:    in.AgeYears,
	})
	if err != nil {
		return Voucher{}, err
	}
	interest := shared.SimpleInterest(in.Principal, rate, in.Days)
	if interest.IsZero() {
		return Voucher{}, shared.Invalid("fd interest: nothing to post")
	}
	return s.CreateVoucher(ctx, CreateInput{
		BranchID:       in.BranchID,
		VoucherType:    TypeFD,
		VoucherSubType: SubTypeInterest,
		Narration:      interestNarration(rate, in.Principal, in.Days),
		UserID:         in.UserID,
		IdempotencyKey: in.IdempotencyKey,
		SourceRef:      s.newRef(),
		Lines: []LineInput{
			{BranchID: in.BranchID, AccountID: rule.ExpenseAccountID, HeadCode: HeadInterestExpense, Amount: interest, EntryType: Debit},
			{BranchID: in.BranchID, AccountID: rule.PayableAccountID, HeadCode: HeadInterestPayable, Amount: interest, EntryType: Credit},
		},
	})
}

func interestNarration(rate, principal decimal.Decimal, days int) string {
	return narrator.Sprintf("Interest @ %s%% on %s for %d days",
		rate.StringFixed(shared.RateScale), formatAmount(principal), days)
}

var (
	_ RuleSource = (*rules.Service)(nil)
	_ RateSource = (*slabs.Resolver)(nil)
)
