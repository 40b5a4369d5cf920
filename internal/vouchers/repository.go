package vouchers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const uniqueViolation = "23505"

// PgRepository persists vouchers in PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("vouchers: repository not initialised")
	}
	return mapErr("voucher tx", db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", shared.ErrConcurrentModification, pgErr.ConstraintName)
	}
	return shared.WrapStorage(op, err)
}

const voucherColumns = `id, branch_id, voucher_no, voucher_type, voucher_sub_type, voucher_date, value_date,
	narration, status, added_by, modified_by, verified_by, posted_by, posted_at, reversal_of, source_ref,
	created_at, updated_at`

const lineColumns = `id, branch_id, voucher_id, account_id, head_code, amount, entry_type, entry_status, value_date, seq_no`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.BranchID, &v.VoucherNo, &v.VoucherType, &v.VoucherSubType, &v.VoucherDate, &v.ValueDate,
		&v.Narration, &v.Status, &v.AddedBy, &v.ModifiedBy, &v.VerifiedBy, &v.PostedBy, &v.PostedAt, &v.ReversalOf,
		&v.SourceRef, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func loadLines(ctx context.Context, q querier, voucherIDs ...int64) (map[int64][]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM voucher_line WHERE voucher_id = ANY($1) ORDER BY voucher_id, seq_no`, voucherIDs)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ID, &l.BranchID, &l.VoucherID, &l.AccountID, &l.HeadCode, &l.Amount,
			&l.EntryType, &l.EntryStatus, &l.ValueDate, &l.SeqNo)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]Line, len(voucherIDs))
	for _, l := range lines {
		out[l.VoucherID] = append(out[l.VoucherID], l)
	}
	return out, nil
}

func getVoucher(ctx context.Context, q querier, branchID, id int64, forUpdate bool) (Voucher, error) {
	sql := `SELECT ` + voucherColumns + ` FROM voucher WHERE id = $1 AND branch_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	v, err := scanVoucher(q.QueryRow(ctx, sql, id, branchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Voucher{}, fmt.Errorf("%w: voucher %d on branch %d", shared.ErrNotFound, id, branchID)
	}
	if err != nil {
		return Voucher{}, shared.WrapStorage("load voucher", err)
	}
	lines, err := loadLines(ctx, q, id)
	if err != nil {
		return Voucher{}, shared.WrapStorage("load voucher lines", err)
	}
	v.Lines = lines[id]
	return v, nil
}

// Get loads a voucher with its lines.
func (r *PgRepository) Get(ctx context.Context, branchID, id int64) (Voucher, error) {
	return getVoucher(ctx, r.pool, branchID, id, false)
}

// ListByDate loads every voucher of a branch day.
func (r *PgRepository) ListByDate(ctx context.Context, branchID int64, date time.Time) ([]Voucher, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+voucherColumns+` FROM voucher
WHERE branch_id = $1 AND voucher_date = $2 ORDER BY voucher_no`, branchID, date)
	if err != nil {
		return nil, shared.WrapStorage("list vouchers", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Voucher, error) {
		return scanVoucher(row)
	})
	if err != nil {
		return nil, shared.WrapStorage("list vouchers", err)
	}
	if len(list) == 0 {
		return list, nil
	}
	ids := make([]int64, len(list))
	for i, v := range list {
		ids[i] = v.ID
	}
	lines, err := loadLines(ctx, r.pool, ids...)
	if err != nil {
		return nil, shared.WrapStorage("list voucher lines", err)
	}
	for i := range list {
		list[i].Lines = lines[list[i].ID]
	}
	return list, nil
}

// NextVoucherNo increments the branch counter and returns the new number.
func (t *txRepository) NextVoucherNo(ctx context.Context, branchID int64) (int64, error) {
	var no int64
	err := t.tx.QueryRow(ctx, `INSERT INTO voucher_counter (branch_id, last_no) VALUES ($1, 1)
ON CONFLICT (branch_id) DO UPDATE SET last_no = voucher_counter.last_no + 1
RETURNING last_no`, branchID).Scan(&no)
	return no, err
}

func (t *txRepository) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO voucher (branch_id, voucher_no, voucher_type, voucher_sub_type, voucher_date,
	value_date, narration, status, added_by, verified_by, reversal_of, source_ref, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`, v.BranchID, v.VoucherNo, v.VoucherType, v.VoucherSubType, v.VoucherDate, v.ValueDate,
		v.Narration, v.Status, v.AddedBy, v.VerifiedBy, v.ReversalOf, v.SourceRef, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		return Voucher{}, err
	}
	batch := &pgx.Batch{}
	for _, l := range v.Lines {
		batch.Queue(`INSERT INTO voucher_line (branch_id, voucher_id, account_id, head_code, amount, entry_type,
	entry_status, value_date, seq_no)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, l.BranchID, v.ID, l.AccountID, l.HeadCode, l.Amount, l.EntryType,
			l.EntryStatus, l.ValueDate, l.SeqNo)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return Voucher{}, err
	}
	return getVoucher(ctx, t.tx, v.BranchID, v.ID, false)
}

func (t *txRepository) GetForUpdate(ctx context.Context, branchID, id int64) (Voucher, error) {
	return getVoucher(ctx, t.tx, branchID, id, true)
}

func (t *txRepository) HasReversal(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM voucher WHERE reversal_of = $1 AND status <> 'CANCELLED')`, id).Scan(&exists)
	return exists, err
}

// UpdateStatus moves a voucher and its lines from one status to the next.
// A row that already left from reports ErrConcurrentModification.
func (t *txRepository) UpdateStatus(ctx context.Context, id int64, from Status, upd StatusUpdate) error {
	tag, err := t.tx.Exec(ctx, `UPDATE voucher SET status = $3, modified_by = $4, updated_at = $5,
	verified_by = CASE WHEN $3 = 'VERIFIED' THEN $4 ELSE verified_by END,
	posted_by = CASE WHEN $3 = 'POSTED' THEN $4 ELSE posted_by END,
	posted_at = CASE WHEN $3 = 'POSTED' THEN $5 ELSE posted_at END
WHERE id = $1 AND status = $2`, id, from, upd.To, upd.ActorID, upd.At)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: voucher %d left %s", shared.ErrConcurrentModification, id, from)
	}
	_, err = t.tx.Exec(ctx, `UPDATE voucher_line SET entry_status = $2 WHERE voucher_id = $1`, id, upd.To)
	return err
}

func (t *txRepository) ApplyAccountHeadEntries(ctx context.Context, branchID int64, lines []Line) error {
	batch := &pgx.Batch{}
	for _, l := range lines {
		debit, credit := l.Amount, decimal.Zero
		if l.EntryType == Credit {
			debit, credit = credit, debit
		}
		batch.Queue(`INSERT INTO account_head_balance (branch_id, account_id, head_code, debit_total, credit_total, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW())
ON CONFLICT (branch_id, account_id, head_code) DO UPDATE SET
	debit_total = account_head_balance.debit_total + EXCLUDED.debit_total,
	credit_total = account_head_balance.credit_total + EXCLUDED.credit_total,
	updated_at = NOW()`, branchID, l.AccountID, l.HeadCode, debit, credit)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}
