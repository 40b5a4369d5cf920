package vouchers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/branch-ledger/internal/rules"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
	"github.com/odyssey-erp/branch-ledger/internal/slabs"
)

type headKey struct {
	branchID  int64
	accountID int64
	headCode  string
}

type memoryVoucherRepo struct {
	mu        sync.Mutex
	vouchers  map[int64]Voucher
	counters  map[int64]int64
	heads     map[headKey]decimal.Decimal
	nextID    int64
	failApply error
}

type memoryVoucherTx struct {
	repo *memoryVoucherRepo
}

func newMemoryVoucherRepo() *memoryVoucherRepo {
	return &memoryVoucherRepo{
		vouchers: map[int64]Voucher{},
		counters: map[int64]int64{},
		heads:    map[headKey]decimal.Decimal{},
	}
}

func cloneVoucher(v Voucher) Voucher {
	v.Lines = append([]Line(nil), v.Lines...)
	return v
}

func (r *memoryVoucherRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vouchers := make(map[int64]Voucher, len(r.vouchers))
	for id, v := range r.vouchers {
		vouchers[id] = cloneVoucher(v)
	}
	counters := make(map[int64]int64, len(r.counters))
	for k, v := range r.counters {
		counters[k] = v
	}
	heads := make(map[headKey]decimal.Decimal, len(r.heads))
	for k, v := range r.heads {
		heads[k] = v
	}
	nextID := r.nextID
	if err := fn(ctx, &memoryVoucherTx{repo: r}); err != nil {
		r.vouchers, r.counters, r.heads, r.nextID = vouchers, counters, heads, nextID
		return err
	}
	return nil
}

func (r *memoryVoucherRepo) Get(_ context.Context, branchID, id int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok || v.BranchID != branchID {
		return Voucher{}, fmt.Errorf("%w: voucher %d", shared.ErrNotFound, id)
	}
	return cloneVoucher(v), nil
}

func (r *memoryVoucherRepo) ListByDate(_ context.Context, branchID int64, date time.Time) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.BranchID == branchID && v.VoucherDate.Equal(date) {
			out = append(out, cloneVoucher(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VoucherNo < out[j].VoucherNo })
	return out, nil
}

func (r *memoryVoucherRepo) balance(branchID, accountID int64, head string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heads[headKey{branchID, accountID, head}]
}

func (t *memoryVoucherTx) NextVoucherNo(_ context.Context, branchID int64) (int64, error) {
	t.repo.counters[branchID]++
	return t.repo.counters[branchID], nil
}

func (t *memoryVoucherTx) Insert(_ context.Context, v Voucher) (Voucher, error) {
	for _, existing := range t.repo.vouchers {
		if existing.BranchID == v.BranchID && existing.VoucherNo == v.VoucherNo {
			return Voucher{}, shared.ErrConcurrentModification
		}
	}
	t.repo.nextID++
	v.ID = t.repo.nextID
	for i := range v.Lines {
		v.Lines[i].ID = v.ID*100 + int64(i)
		v.Lines[i].VoucherID = v.ID
	}
	t.repo.vouchers[v.ID] = cloneVoucher(v)
	return cloneVoucher(v), nil
}

func (t *memoryVoucherTx) GetForUpdate(_ context.Context, branchID, id int64) (Voucher, error) {
	v, ok := t.repo.vouchers[id]
	if !ok || v.BranchID != branchID {
		return Voucher{}, fmt.Errorf("%w: voucher %d", shared.ErrNotFound, id)
	}
	return cloneVoucher(v), nil
}

func (t *memoryVoucherTx) HasReversal(_ context.Context, id int64) (bool, error) {
	for _, v := range t.repo.vouchers {
		if v.ReversalOf != nil && *v.ReversalOf == id && v.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryVoucherTx) UpdateStatus(_ context.Context, id int64, from Status, upd StatusUpdate) error {
	v, ok := t.repo.vouchers[id]
	if !ok || v.Status != from {
		return shared.ErrConcurrentModification
	}
	actor, at := upd.ActorID, upd.At
	v.Status = upd.To
	v.ModifiedBy = &actor
	v.UpdatedAt = at
	switch upd.To {
	case StatusVerified:
		v.VerifiedBy = &actor
	case StatusPosted:
		v.PostedBy, v.PostedAt = &actor, &at
	}
	for i := range v.Lines {
		v.Lines[i].EntryStatus = upd.To
	}
	t.repo.vouchers[id] = v
	return nil
}

func (t *memoryVoucherTx) ApplyAccountHeadEntries(_ context.Context, branchID int64, lines []Line) error {
	for i, l := range lines {
		if t.repo.failApply != nil && i == len(lines)-1 {
			return t.repo.failApply
		}
		key := headKey{branchID, l.AccountID, l.HeadCode}
		amount := l.Amount
		if l.EntryType == Credit {
			amount = amount.Neg()
		}
		t.repo.heads[key] = t.repo.heads[key].Add(amount)
	}
	return nil
}

type stubSessions struct {
	mu   sync.Mutex
	open map[int64]time.Time
}

func (s *stubSessions) CurrentWorkingDate(_ context.Context, branchID int64) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.open[branchID]
	if !ok {
		return time.Time{}, shared.ErrNoOpenSession
	}
	return d, nil
}

func (s *stubSessions) close(branchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, branchID)
}

type stubRules struct {
	settings map[int64]rules.BranchSettings
	saving   map[int64]rules.SavingRule
	fd       map[int64]rules.FDRule
}

func (s stubRules) GetFDRule(_ context.Context, _, productID int64) (rules.FDRule, error) {
	r, ok := s.fd[productID]
	if !ok {
		return rules.FDRule{}, shared.ErrNotFound
	}
	return r, nil
}

func (s stubRules) GetSavingRule(_ context.Context, _, productID int64) (rules.SavingRule, error) {
	r, ok := s.saving[productID]
	if !ok {
		return rules.SavingRule{}, shared.ErrNotFound
	}
	return r, nil
}

func (s stubRules) GetBranchSettings(_ context.Context, branchID int64) (rules.BranchSettings, error) {
	r, ok := s.settings[branchID]
	if !ok {
		return rules.BranchSettings{}, shared.ErrNotFound
	}
	return r, nil
}

type stubRates struct {
	fd, saving decimal.Decimal
}

func (s stubRates) ResolveFDRate(context.Context, slabs.FDQuery) (decimal.Decimal, error) {
	if s.fd.IsZero() {
		return decimal.Zero, shared.ErrSlabNotFound
	}
	return s.fd, nil
}

func (s stubRates) ResolveSavingRate(context.Context, slabs.SavingQuery) (decimal.Decimal, error) {
	if s.saving.IsZero() {
		return decimal.Zero, shared.ErrSlabNotFound
	}
	return s.saving, nil
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

// countingLock wraps a local lock and records how it is used.
type countingLock struct {
	inner    *shared.LocalBranchLock
	mu       sync.Mutex
	acquired map[int64]int
	held     map[int64]int
	maxHeld  int
}

func newCountingLock() *countingLock {
	return &countingLock{inner: shared.NewLocalBranchLock(), acquired: map[int64]int{}, held: map[int64]int{}}
}

func (c *countingLock) Acquire(ctx context.Context, branchID int64) (func(), error) {
	release, err := c.inner.Acquire(ctx, branchID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.acquired[branchID]++
	c.held[branchID]++
	if c.held[branchID] > c.maxHeld {
		c.maxHeld = c.held[branchID]
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.held[branchID]--
		c.mu.Unlock()
		release()
	}, nil
}

var workingDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	repo     *memoryVoucherRepo
	sessions *stubSessions
	rules    stubRules
	audit    *memoryAudit
	lock     *countingLock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemoryVoucherRepo(),
		sessions: &stubSessions{open: map[int64]time.Time{1: workingDay, 2: workingDay}},
		rules: stubRules{
			settings: map[int64]rules.BranchSettings{
				1: {BranchID: 1, CashAccountID: 1000, CashHeadCode: "CASH"},
				2: {BranchID: 2, AutoVerify: true, AllowBackdated: true, CashAccountID: 2000, CashHeadCode: "CASH"},
			},
			saving: map[int64]rules.SavingRule{
				3: {BranchID: 1, ProductID: 3, ExpenseAccountID: 5200, MaxWithdrawalAmount: decimal.NewFromInt(10000)},
			},
			fd: map[int64]rules.FDRule{
				10: {BranchID: 1, ProductID: 10, ExpenseAccountID: 5100, PayableAccountID: 2100},
			},
		},
		audit: &memoryAudit{},
		lock:  newCountingLock(),
	}
	f.svc = NewService(f.repo, f.sessions, f.rules, stubRates{fd: decimal.RequireFromString("7.3"), saving: decimal.NewFromInt(4)},
		f.lock, f.audit, nil)
	f.svc.WithNow(func() time.Time { return workingDay.Add(10 * time.Hour) })
	return f
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func balancedInput(branchID, userID int64, amount string) CreateInput {
	return CreateInput{
		BranchID:    branchID,
		VoucherType: TypeJournal,
		Narration:   "transfer",
		UserID:      userID,
		Lines: []LineInput{
			{BranchID: branchID, AccountID: 1000, HeadCode: "CASH", Amount: amt(amount), EntryType: Debit},
			{BranchID: branchID, AccountID: 3000, HeadCode: "SAV", Amount: amt(amount), EntryType: Credit},
		},
	}
}

func TestCreateVoucherDraft(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(context.Background(), balancedInput(1, 7, "150.25"))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, v.Status)
	assert.Equal(t, int64(1), v.VoucherNo)
	assert.Equal(t, workingDay, v.VoucherDate)
	assert.Equal(t, workingDay, v.ValueDate)
	assert.NotEqual(t, [16]byte{}, [16]byte(v.SourceRef))
	require.Len(t, v.Lines, 2)
	for _, l := range v.Lines {
		assert.Equal(t, v.BranchID, l.BranchID)
		assert.Equal(t, StatusDraft, l.EntryStatus)
	}
	assert.True(t, Balanced(v.Lines))
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, "VOUCHER_CREATED", f.audit.logs[0].Action)
}

func TestCreateVoucherRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateInput)
		err    error
	}{
		{name: "no lines", mutate: func(in *CreateInput) { in.Lines = nil }, err: shared.ErrValidation},
		{name: "line on other branch", mutate: func(in *CreateInput) { in.Lines[1].BranchID = 2 }, err: shared.ErrValidation},
		{name: "negative amount", mutate: func(in *CreateInput) { in.Lines[0].Amount = amt("-1") }, err: shared.ErrValidation},
		{name: "sub cent amount", mutate: func(in *CreateInput) {
			in.Lines[0].Amount = amt("10.001")
			in.Lines[1].Amount = amt("10.001")
		}, err: shared.ErrValidation},
		{name: "bad entry type", mutate: func(in *CreateInput) { in.Lines[0].EntryType = "BOTH" }, err: shared.ErrValidation},
		{name: "imbalanced by a cent", mutate: func(in *CreateInput) { in.Lines[1].Amount = amt("100.01") }, err: shared.ErrImbalancedVoucher},
		{name: "voucher date not working date", mutate: func(in *CreateInput) { in.VoucherDate = workingDay.AddDate(0, 0, -1) }, err: shared.ErrSessionClosed},
		{name: "future value date", mutate: func(in *CreateInput) { in.ValueDate = workingDay.AddDate(0, 0, 1) }, err: shared.ErrSessionClosed},
		{name: "back-dated without branch permission", mutate: func(in *CreateInput) {
			in.ValueDate = workingDay.AddDate(0, 0, -2)
			in.AllowBackdated = true
		}, err: shared.ErrSessionClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := balancedInput(1, 7, "100")
			tc.mutate(&in)
			_, err := f.svc.CreateVoucher(context.Background(), in)
			require.ErrorIs(t, err, tc.err)
			assert.Empty(t, f.repo.vouchers)
			assert.Zero(t, f.repo.counters[1])
		})
	}
}

func TestCreateVoucherRequiresOpenSession(t *testing.T) {
	f := newFixture(t)
	f.sessions.close(1)
	_, err := f.svc.CreateVoucher(context.Background(), balancedInput(1, 7, "10"))
	require.ErrorIs(t, err, shared.ErrSessionClosed)
	assert.Empty(t, f.repo.vouchers)
}

func TestCreateVoucherBackdatedWhenAllowed(t *testing.T) {
	f := newFixture(t)
	in := balancedInput(2, 7, "10")
	in.ValueDate = workingDay.AddDate(0, 0, -3)

	_, err := f.svc.CreateVoucher(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrSessionClosed)

	in.AllowBackdated = true
	v, err := f.svc.CreateVoucher(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, workingDay.AddDate(0, 0, -3), v.ValueDate)
	assert.Equal(t, workingDay, v.VoucherDate)
}

func TestCreateVoucherConcurrentNumbering(t *testing.T) {
	f := newFixture(t)
	var g errgroup.Group
	const n = 20
	nos := make([]int64, n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, err := f.svc.CreateVoucher(context.Background(), balancedInput(1, 7, "5"))
			if err != nil {
				return err
			}
			nos[i] = v.VoucherNo
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, n, f.lock.acquired[1], "every create numbers under the branch lock")
	assert.Equal(t, 1, f.lock.maxHeld)
	sort.Slice(nos, func(i, j int) bool { return nos[i] < nos[j] })
	for i, no := range nos {
		assert.Equal(t, int64(i+1), no)
	}

	other, err := f.svc.CreateVoucher(context.Background(), balancedInput(2, 7, "5"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.VoucherNo)
	assert.Equal(t, 1, f.lock.acquired[2])
}

func TestVoucherLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(ctx, balancedInput(1, 7, "250"))
	require.NoError(t, err)

	_, err = f.svc.PostVoucher(ctx, v.BranchID, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrStateTransition)

	_, err = f.svc.VerifyVoucher(ctx, v.BranchID, v.ID, 7)
	require.ErrorIs(t, err, shared.ErrStateTransition, "creator cannot verify")

	v, err = f.svc.VerifyVoucher(ctx, v.BranchID, v.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, v.Status)
	require.NotNil(t, v.VerifiedBy)
	assert.Equal(t, int64(8), *v.VerifiedBy)

	v, err = f.svc.PostVoucher(ctx, v.BranchID, v.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, v.Status)
	require.NotNil(t, v.PostedAt)
	assert.True(t, f.repo.balance(1, 1000, "CASH").Equal(amt("250")))
	assert.True(t, f.repo.balance(1, 3000, "SAV").Equal(amt("-250")))

	for _, op := range []func(context.Context, int64, int64, int64) (Voucher, error){
		f.svc.VerifyVoucher, f.svc.PostVoucher, f.svc.CancelVoucher,
	} {
		_, err := op(ctx, v.BranchID, v.ID, 10)
		require.ErrorIs(t, err, shared.ErrStateTransition)
	}
}

func TestVoucherOperationsStayOnOwnBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(ctx, balancedInput(1, 7, "12"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, 2, v.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.VerifyVoucher(ctx, 2, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.CancelVoucher(ctx, 2, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.ReverseVoucher(ctx, 2, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrNotFound)

	got, err := f.svc.Get(ctx, 1, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
}

func TestVerifyVoucherByCreatorWhenBranchAutoVerifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rules.settings[2] = rules.BranchSettings{BranchID: 2, CashAccountID: 2000, CashHeadCode: "CASH"}
	v, err := f.svc.CreateVoucher(ctx, balancedInput(2, 7, "15"))
	require.NoError(t, err)
	require.Equal(t, StatusDraft, v.Status)

	_, err = f.svc.VerifyVoucher(ctx, 2, v.ID, 7)
	require.ErrorIs(t, err, shared.ErrStateTransition)

	f.rules.settings[2] = rules.BranchSettings{BranchID: 2, AutoVerify: true, CashAccountID: 2000, CashHeadCode: "CASH"}
	verified, err := f.svc.VerifyVoucher(ctx, 2, v.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, verified.Status)
}

func TestTransitionMatrix(t *testing.T) {
	all := []Status{StatusDraft, StatusVerified, StatusPosted, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusVerified}:     true,
		{StatusDraft, StatusCancelled}:    true,
		{StatusVerified, StatusPosted}:    true,
		{StatusVerified, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCancelVoucher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	draft, err := f.svc.CreateVoucher(ctx, balancedInput(1, 7, "10"))
	require.NoError(t, err)
	cancelled, err := f.svc.CancelVoucher(ctx, 1, draft.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	_, err = f.svc.VerifyVoucher(ctx, 1, draft.ID, 8)
	require.ErrorIs(t, err, shared.ErrStateTransition)

	auto, err := f.svc.CreateVoucher(ctx, balancedInput(2, 7, "10"))
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, auto.Status)
	cancelled, err = f.svc.CancelVoucher(ctx, 2, auto.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestPostVoucherIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(ctx, balancedInput(2, 7, "75"))
	require.NoError(t, err)

	f.repo.failApply = errors.New("ledger unavailable")
	_, err = f.svc.PostVoucher(ctx, v.BranchID, v.ID, 8)
	require.Error(t, err)
	assert.True(t, f.repo.balance(2, 1000, "CASH").IsZero())
	got, err := f.svc.Get(ctx, v.BranchID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, got.Status)

	f.repo.failApply = nil
	f.sessions.close(2)
	_, err = f.svc.PostVoucher(ctx, v.BranchID, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrSessionClosed)
}

func TestReverseVoucher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(ctx, balancedInput(2, 7, "40"))
	require.NoError(t, err)

	_, err = f.svc.ReverseVoucher(ctx, v.BranchID, v.ID, 7)
	require.ErrorIs(t, err, shared.ErrStateTransition)

	_, err = f.svc.PostVoucher(ctx, v.BranchID, v.ID, 8)
	require.NoError(t, err)

	rev, err := f.svc.ReverseVoucher(ctx, v.BranchID, v.ID, 8)
	require.NoError(t, err)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, v.ID, *rev.ReversalOf)
	assert.Equal(t, TypeReversal, rev.VoucherType)
	require.Len(t, rev.Lines, 2)
	assert.Equal(t, Credit, rev.Lines[0].EntryType)
	assert.Equal(t, Debit, rev.Lines[1].EntryType)

	_, err = f.svc.ReverseVoucher(ctx, v.BranchID, v.ID, 8)
	require.ErrorIs(t, err, shared.ErrStateTransition)

	_, err = f.svc.PostVoucher(ctx, rev.BranchID, rev.ID, 8)
	require.NoError(t, err)
	assert.True(t, f.repo.balance(2, 1000, "CASH").IsZero())
}

func TestBuildSavingDepositOrWithdrawalVoucher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := SavingTxnInput{BranchID: 1, ProductID: 3, SavingAccountID: 4001, SavingHeadCode: "SAV", Amount: amt("500"), Direction: Deposit, UserID: 7}

	dep, err := f.svc.BuildSavingDepositOrWithdrawalVoucher(ctx, in)
	require.NoError(t, err)
	require.Len(t, dep.Lines, 2)
	assert.Equal(t, SubTypeDeposit, dep.VoucherSubType)
	assert.Equal(t, int64(1000), dep.Lines[0].AccountID)
	assert.Equal(t, Debit, dep.Lines[0].EntryType)
	assert.Equal(t, int64(4001), dep.Lines[1].AccountID)
	assert.Equal(t, Credit, dep.Lines[1].EntryType)
	assert.Equal(t, "Saving DEPOSIT of 500.00", dep.Narration)

	in.Direction = Withdrawal
	wd, err := f.svc.BuildSavingDepositOrWithdrawalVoucher(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Credit, wd.Lines[0].EntryType)
	assert.Equal(t, Debit, wd.Lines[1].EntryType)
	assert.True(t, Balanced(wd.Lines))

	in.Amount = amt("10000.01")
	_, err = f.svc.BuildSavingDepositOrWithdrawalVoucher(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in.Amount = amt("0")
	_, err = f.svc.BuildSavingDepositOrWithdrawalVoucher(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in.Amount, in.BranchID = amt("10"), 9
	_, err = f.svc.BuildSavingDepositOrWithdrawalVoucher(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestFormatAmountKeepsDecimalPrecision(t *testing.T) {
	cases := map[string]string{
		"0":                   "0.00",
		"0.5":                 "0.50",
		"999":                 "999.00",
		"1000":                "1,000.00",
		"-1234.5":             "-1,234.50",
		"123456789.1":         "123,456,789.10",
		"9007199254740993.01": "9,007,199,254,740,993.01",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatAmount(amt(in)), in)
	}
}

func TestBuildInterestVouchers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	fd, err := f.svc.BuildFDInterestVoucher(ctx, FDInterestInput{
		BranchID: 1, ProductID: 10, Principal: amt("10000"), DepositDate: workingDay.AddDate(0, -1, 0),
		TenorDays: 120, AgeYears: 45, Days: 30, UserID: 7,
	})
	require.NoError(t, err)
	require.Len(t, fd.Lines, 2)
	assert.True(t, fd.Lines[0].Amount.Equal(amt("60")), "got %s", fd.Lines[0].Amount)
	assert.Equal(t, int64(5100), fd.Lines[0].AccountID)
	assert.Equal(t, int64(2100), fd.Lines[1].AccountID)
	assert.Equal(t, "Interest @ 7.3000% on 10,000.00 for 30 days", fd.Narration)

	saving, err := f.svc.BuildSavingInterestVoucher(ctx, SavingInterestInput{
		BranchID: 1, ProductID: 3, SavingAccountID: 4001, SavingHeadCode: "SAV", Balance: amt("1500"), Days: 365, UserID: 7,
	})
	require.NoError(t, err)
	assert.True(t, saving.Lines[1].Amount.Equal(amt("60")))
	assert.Equal(t, Credit, saving.Lines[1].EntryType)

	_, err = f.svc.BuildFDInterestVoucher(ctx, FDInterestInput{
		BranchID: 1, ProductID: 99, Principal: amt("1"), DepositDate: workingDay, TenorDays: 1, Days: 1, UserID: 7,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCheckDayBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v, err := f.svc.CreateVoucher(ctx, balancedInput(1, 7, "20"))
	require.NoError(t, err)

	issues, err := f.svc.CheckDayBalances(ctx, 1, workingDay)
	require.NoError(t, err)
	assert.Empty(t, issues)

	f.repo.mu.Lock()
	stored := f.repo.vouchers[v.ID]
	stored.Lines[1].Amount = amt("19.99")
	f.repo.vouchers[v.ID] = stored
	f.repo.mu.Unlock()

	issues, err = f.svc.CheckDayBalances(ctx, 1, workingDay)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, v.VoucherNo, issues[0].VoucherNo)
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]int64
}

func (m *memoryIdempotency) Lookup(_ context.Context, scope, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[scope+"|"+key]
	return id, ok, nil
}

func (m *memoryIdempotency) Remember(_ context.Context, scope, key string, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[scope+"|"+key]; !ok {
		m.keys[scope+"|"+key] = entityID
	}
	return nil
}

func TestCreateVoucherReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.svc.WithIdempotency(&memoryIdempotency{keys: map[string]int64{}})
	ctx := context.Background()

	in := balancedInput(1, 7, "80.00")
	in.IdempotencyKey = "req-1"
	first, err := f.svc.CreateVoucher(ctx, in)
	require.NoError(t, err)
	again, err := f.svc.CreateVoucher(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.VoucherNo, again.VoucherNo)
	assert.Len(t, f.audit.logs, 1)

	// keys are scoped per branch
	other := balancedInput(2, 7, "80.00")
	other.IdempotencyKey = "req-1"
	second, err := f.svc.CreateVoucher(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	in.IdempotencyKey = "req-2"
	third, err := f.svc.CreateVoucher(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.VoucherNo)
}
