package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/rules"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/slabs"
)

// Repository abstracts voucher persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, branchID, id int64) (Voucher, error)
	ListByDate(ctx context.Context, branchID int64, date time.Time) ([]Voucher, error)
}

// TxRepository exposes operations that must share one transaction.
type TxRepository interface {
	NextVoucherNo(ctx context.Context, branchID int64) (int64, error)
	Insert(ctx context.Context, v Voucher) (Voucher, error)
	GetForUpdate(ctx context.Context, branchID, id int64) (Voucher, error)
	HasReversal(ctx context.Context, id int64) (bool, error)
	UpdateStatus(ctx context.Context, id int64, from Status, upd StatusUpdate) error
	// ApplyAccountHeadEntries moves account head balances for every line.
	ApplyAccountHeadEntries(ctx context.Context, branchID int64, lines []Line) error
}

// StatusUpdate carries the columns written on a transition.
type StatusUpdate struct {
	To      Status
	ActorID int64
	At      time.Time
}

// SessionSource supplies the branch working date.
type SessionSource interface {
	CurrentWorkingDate(ctx context.Context, branchID int64) (time.Time, error)
}

// RuleSource supplies product rules and branch settings.
type RuleSource interface {
	GetFDRule(ctx context.Context, branchID, productID int64) (rules.FDRule, error)
	GetSavingRule(ctx context.Context, branchID, productID int64) (rules.SavingRule, error)
	GetBranchSettings(ctx context.Context, branchID int64) (rules.BranchSettings, error)
}

// RateSource resolves interest rates.
type RateSource interface {
	ResolveFDRate(ctx context.Context, q slabs.FDQuery) (decimal.Decimal, error)
	ResolveSavingRate(ctx context.Context, q slabs.SavingQuery) (decimal.Decimal, error)
}

// AuditPort records voucher events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives transition counters.
type Recorder interface {
	ObserveVoucherTransition(status string)
}

// IdempotencyPort maps client request keys to the voucher they created.
type IdempotencyPort interface {
	Lookup(ctx context.Context, scope, key string) (int64, bool, error)
	Remember(ctx context.Context, scope, key string, entityID int64) error
}

// Service is the voucher engine.
type Service struct {
	repo     Repository
	sessions SessionSource
	rules    RuleSource
	rates    RateSource
	lock     shared.BranchLedgerLock
	audit    AuditPort
	recorder Recorder
	idem     IdempotencyPort
	logger   *slog.Logger
	now      func() time.Time
	newRef   func() uuid.UUID
}

// NewService constructs the voucher engine.
func NewService(repo Repository, sessions SessionSource, ruleSource RuleSource, rates RateSource, lock shared.BranchLedgerLock, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		rules:    ruleSource,
		rates:    rates,
		lock:     lock,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
		newRef:   uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRecorder registers a metrics recorder.
func (s *Service) WithRecorder(r Recorder) {
	s.recorder = r
}

// WithIdempotency lets callers retry creation safely with a request key.
func (s *Service) WithIdempotency(store IdempotencyPort) {
	s.idem = store
}

func idempotencyScope(branchID int64) string {
	return "voucher:" + strconv.FormatInt(branchID, 10)
}

// replay returns the voucher an earlier request with the same key created.
func (s *Service) replay(ctx context.Context, in CreateInput) (Voucher, bool, error) {
	if s.idem == nil || in.IdempotencyKey == "" {
		return Voucher{}, false, nil
	}
	id, found, err := s.idem.Lookup(ctx, idempotencyScope(in.BranchID), in.IdempotencyKey)
	if err != nil || !found {
		return Voucher{}, false, err
	}
	v, err := s.repo.Get(ctx, in.BranchID, id)
	if err != nil {
		return Voucher{}, false, err
	}
	return v, true, nil
}

// Get returns a voucher of the branch with its lines.
func (s *Service) Get(ctx context.Context, branchID, id int64) (Voucher, error) {
	return s.repo.Get(ctx, branchID, id)
}

// List returns the branch vouchers dated on date.
func (s *Service) List(ctx context.Context, branchID int64, date time.Time) ([]Voucher, error) {
	return s.repo.ListByDate(ctx, branchID, shared.DateOf(date))
}

func (in CreateInput) validate() ([]Line, error) {
	if err := validate.Struct(in); err != nil {
		return nil, shared.Invalid("voucher: %v", err)
	}
	if len(in.Lines) == 0 {
		return nil, shared.Invalid("voucher: at least one line required")
	}
	lines := make([]Line, 0, len(in.Lines))
	for i, l := range in.Lines {
		if l.BranchID != in.BranchID {
			return nil, shared.Invalid("voucher: line %d branch %d differs from voucher branch %d", i+1, l.BranchID, in.BranchID)
		}
		if l.Amount.Sign() <= 0 {
			return nil, shared.Invalid("voucher: line %d amount must be positive", i+1)
		}
		if !shared.HasMinorUnitPrecision(l.Amount) {
			return nil, shared.Invalid("voucher: line %d amount exceeds %d decimals", i+1, shared.AmountScale)
		}
		lines = append(lines, Line{
			BranchID:  l.BranchID,
			AccountID: l.AccountID,
			HeadCode:  l.HeadCode,
			Amount:    l.Amount,
			EntryType: l.EntryType,
			SeqNo:     i + 1,
		})
	}
	if !Balanced(lines) {
		debit, credit := Totals(lines)
		return nil, fmt.Errorf("%w: debit %s credit %s", shared.ErrImbalancedVoucher,
			debit.StringFixed(shared.AmountScale), credit.StringFixed(shared.AmountScale))
	}
	return lines, nil
}

// CreateVoucher validates and stores a new voucher under the next branch number.
func (s *Service) CreateVoucher(ctx context.Context, in CreateInput) (Voucher, error) {
	lines, err := in.validate()
	if err != nil {
		return Voucher{}, err
	}
	settings, err := s.settings(ctx, in.BranchID)
	if err != nil {
		return Voucher{}, err
	}

	var (
		created  Voucher
		replayed bool
	)
	err = shared.WithBranchLock(ctx, s.lock, in.BranchID, func(ctx context.Context) error {
		var err error
		if created, replayed, err = s.replay(ctx, in); err != nil || replayed {
			return err
		}
		voucherDate, valueDate, err := s.postingDates(ctx, in, settings)
		if err != nil {
			return err
		}
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if in.ReversalOf != nil {
				if err := checkReversible(ctx, tx, in.BranchID, *in.ReversalOf); err != nil {
					return err
				}
			}
			no, err := tx.NextVoucherNo(ctx, in.BranchID)
			if err != nil {
				return err
			}
			at := s.now()
			status := StatusDraft
			var verifiedBy *int64
			if settings.AutoVerify {
				status = StatusVerified
				verifiedBy = &in.UserID
			}
			for i := range lines {
				lines[i].EntryStatus = status
				lines[i].ValueDate = valueDate
			}
			ref := in.SourceRef
			if ref == uuid.Nil {
				ref = s.newRef()
			}
			created, err = tx.Insert(ctx, Voucher{
				BranchID:       in.BranchID,
				VoucherNo:      no,
				VoucherType:    in.VoucherType,
				VoucherSubType: in.VoucherSubType,
				VoucherDate:    voucherDate,
				ValueDate:      valueDate,
				Narration:      in.Narration,
				Status:         status,
				AddedBy:        in.UserID,
				VerifiedBy:     verifiedBy,
				ReversalOf:     in.ReversalOf,
				SourceRef:      ref,
				CreatedAt:      at,
				UpdatedAt:      at,
				Lines:          lines,
			})
			return err
		})
		if err != nil || s.idem == nil || in.IdempotencyKey == "" {
			return err
		}
		if err := s.idem.Remember(ctx, idempotencyScope(in.BranchID), in.IdempotencyKey, created.ID); err != nil {
			s.logger.Warn("remember idempotency key", slog.Int64("voucher_id", created.ID), slog.Any("error", err))
		}
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	if replayed {
		s.logger.Debug("voucher create replayed", slog.Int64("voucher_id", created.ID))
		return created, nil
	}

	s.logger.Info("voucher created",
		slog.Int64("branch_id", created.BranchID),
		slog.Int64("voucher_id", created.ID),
		slog.Int64("voucher_no", created.VoucherNo),
		slog.String("status", string(created.Status)))
	s.observe(StatusDraft)
	if created.Status == StatusVerified {
		s.observe(StatusVerified)
	}
	s.record(ctx, in.UserID, created, "VOUCHER_CREATED", map[string]any{"voucher_no": created.VoucherNo})
	return created, nil
}

// postingDates applies the working date window. Voucher date is always the
// working date; value date may precede it only when caller and branch both allow it.
func (s *Service) postingDates(ctx context.Context, in CreateInput, settings rules.BranchSettings) (time.Time, time.Time, error) {
	working, err := s.workingDate(ctx, in.BranchID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	voucherDate := working
	if !in.VoucherDate.IsZero() {
		voucherDate = shared.DateOf(in.VoucherDate)
	}
	if !voucherDate.Equal(working) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: voucher date %s is not working date %s",
			shared.ErrSessionClosed, voucherDate.Format(time.DateOnly), working.Format(time.DateOnly))
	}
	valueDate := working
	if !in.ValueDate.IsZero() {
		valueDate = shared.DateOf(in.ValueDate)
	}
	switch {
	case valueDate.After(working):
		return time.Time{}, time.Time{}, fmt.Errorf("%w: value date %s is after working date %s",
			shared.ErrSessionClosed, valueDate.Format(time.DateOnly), working.Format(time.DateOnly))
	case valueDate.Before(working) && !(in.AllowBackdated && settings.AllowBackdated):
		return time.Time{}, time.Time{}, fmt.Errorf("%w: back-dated value date %s not permitted",
			shared.ErrSessionClosed, valueDate.Format(time.DateOnly))
	}
	return voucherDate, valueDate, nil
}

func (s *Service) workingDate(ctx context.Context, branchID int64) (time.Time, error) {
	working, err := s.sessions.CurrentWorkingDate(ctx, branchID)
	if errors.Is(err, shared.ErrNoOpenSession) {
		return time.Time{}, fmt.Errorf("%w: branch %d has no open working day", shared.ErrSessionClosed, branchID)
	}
	if err != nil {
		return time.Time{}, err
	}
	return shared.DateOf(working), nil
}

func (s *Service) settings(ctx context.Context, branchID int64) (rules.BranchSettings, error) {
	settings, err := s.rules.GetBranchSettings(ctx, branchID)
	if errors.Is(err, shared.ErrNotFound) {
		return rules.BranchSettings{BranchID: branchID}, nil
	}
	return settings, err
}

func checkReversible(ctx context.Context, tx TxRepository, branchID, originalID int64) error {
	original, err := tx.GetForUpdate(ctx, branchID, originalID)
	if err != nil {
		return err
	}
	if original.Status != StatusPosted {
		return fmt.Errorf("%w: voucher %d is %s, only posted vouchers can be reversed",
			shared.ErrStateTransition, originalID, original.Status)
	}
	reversed, err := tx.HasReversal(ctx, originalID)
	if err != nil {
		return err
	}
	if reversed {
		return fmt.Errorf("%w: voucher %d already reversed", shared.ErrStateTransition, originalID)
	}
	return nil
}

// VerifyVoucher moves a Draft voucher to Verified. Unless the branch auto-verifies,
// the creator cannot verify their own voucher.
func (s *Service) VerifyVoucher(ctx context.Context, branchID, id, verifierID int64) (Voucher, error) {
	if verifierID <= 0 {
		return Voucher{}, shared.Invalid("verifier required")
	}
	return s.transition(ctx, branchID, id, verifierID, StatusVerified, func(v Voucher) error {
		if v.AddedBy != verifierID {
			return nil
		}
		settings, err := s.settings(ctx, v.BranchID)
		if err != nil {
			return err
		}
		if !settings.AutoVerify {
			return fmt.Errorf("%w: voucher %d cannot be verified by its creator", shared.ErrStateTransition, id)
		}
		return nil
	}, nil)
}

// PostVoucher applies a Verified voucher to the account heads and marks it Posted.
func (s *Service) PostVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error) {
	return s.transition(ctx, branchID, id, actorID, StatusPosted, func(v Voucher) error {
		_, err := s.workingDate(ctx, v.BranchID)
		return err
	}, func(ctx context.Context, tx TxRepository, v Voucher) error {
		return tx.ApplyAccountHeadEntries(ctx, v.BranchID, v.Lines)
	})
}

// CancelVoucher cancels a Draft or Verified voucher.
func (s *Service) CancelVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error) {
	return s.transition(ctx, branchID, id, actorID, StatusCancelled, nil, nil)
}

func (s *Service) transition(
	ctx context.Context,
	branchID, id, actorID int64,
	to Status,
	check func(Voucher) error,
	apply func(context.Context, TxRepository, Voucher) error,
) (Voucher, error) {
	var updated Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetForUpdate(ctx, branchID, id)
		if err != nil {
			return err
		}
		if !CanTransition(v.Status, to) {
			return fmt.Errorf("%w: voucher %d %s -> %s", shared.ErrStateTransition, id, v.Status, to)
		}
		if check != nil {
			if err := check(v); err != nil {
				return err
			}
		}
		if apply != nil {
			if err := apply(ctx, tx, v); err != nil {
				return err
			}
		}
		upd := StatusUpdate{To: to, ActorID: actorID, At: s.now()}
		if err := tx.UpdateStatus(ctx, id, v.Status, upd); err != nil {
			return err
		}
		updated, err = tx.GetForUpdate(ctx, branchID, id)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	s.logger.Info("voucher transitioned",
		slog.Int64("branch_id", updated.BranchID),
		slog.Int64("voucher_id", updated.ID),
		slog.Int64("voucher_no", updated.VoucherNo),
		slog.String("status", string(to)))
	s.observe(to)
	s.record(ctx, actorID, updated, "VOUCHER_"+string(to), nil)
	return updated, nil
}

// ReverseVoucher creates a new voucher with inverted lines for a Posted voucher.
func (s *Service) ReverseVoucher(ctx context.Context, branchID, id, actorID int64) (Voucher, error) {
	original, err := s.repo.Get(ctx, branchID, id)
	if err != nil {
		return Voucher{}, err
	}
	if original.Status != StatusPosted {
		return Voucher{}, fmt.Errorf("%w: voucher %d is %s, only posted vouchers can be reversed",
			shared.ErrStateTransition, id, original.Status)
	}
	lines := make([]LineInput, 0, len(original.Lines))
	for _, l := range original.Lines {
		lines = append(lines, LineInput{
			BranchID:  l.BranchID,
			AccountID: l.AccountID,
			HeadCode:  l.HeadCode,
			Amount:    l.Amount,
			EntryType: l.EntryType.Opposite(),
		})
	}
	return s.CreateVoucher(ctx, CreateInput{
		BranchID:       original.BranchID,
		VoucherType:    TypeReversal,
		VoucherSubType: original.VoucherType,
		Narration:      "Reversal of voucher " + strconv.FormatInt(original.VoucherNo, 10),
		UserID:         actorID,
		ReversalOf:     &original.ID,
		Lines:          lines,
	})
}

// CheckDayBalances returns every voucher of the branch day whose stored lines do not balance.
func (s *Service) CheckDayBalances(ctx context.Context, branchID int64, date time.Time) ([]DayBalanceIssue, error) {
	list, err := s.repo.ListByDate(ctx, branchID, shared.DateOf(date))
	if err != nil {
		return nil, err
	}
	var issues []DayBalanceIssue
	for _, v := range list {
		if v.Status == StatusCancelled || Balanced(v.Lines) {
			continue
		}
		debit, credit := Totals(v.Lines)
		issues = append(issues, DayBalanceIssue{VoucherID: v.ID, VoucherNo: v.VoucherNo, Debit: debit, Credit: credit})
	}
	if len(issues) > 0 {
		s.logger.Error("imbalanced vouchers found",
			slog.Int64("branch_id", branchID),
			slog.String("date", date.Format(time.DateOnly)),
			slog.Int("count", len(issues)))
	}
	return issues, nil
}

func (s *Service) observe(status Status) {
	if s.recorder != nil {
		s.recorder.ObserveVoucherTransition(string(status))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, v Voucher, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		BranchID: v.BranchID,
		Action:   action,
		Entity:   "voucher",
		EntityID: strconv.FormatInt(v.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("voucher audit failed", slog.Int64("voucher_id", v.ID), slog.Any("error", err))
	}
}
