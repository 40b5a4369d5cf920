package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

const uniqueViolation = "23505"

// PgRepository persists sessions in PostgreSQL.
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
		return errors.New("session: repository not initialised")
	}
	return shared.WrapStorage("session tx", db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

const sessionColumns = `id, branch_id, session_from, session_to, from_date, to_date, is_current, is_first`

const dayInfoColumns = `id, branch_id, working_date, latest_status`

func scanSession(row pgx.Row) (BranchSession, error) {
	var s BranchSession
	err := row.Scan(&s.ID, &s.BranchID, &s.SessionFrom, &s.SessionTo, &s.FromDate, &s.ToDate, &s.IsCurrent, &s.IsFirst)
	return s, err
}

func scanDayInfo(row pgx.Row) (DayBeginEndInfo, error) {
	var info DayBeginEndInfo
	err := row.Scan(&info.ID, &info.BranchID, &info.WorkingDate, &info.LatestStatus)
	return info, err
}

func optional[T any](v T, err error, op string) (T, bool, error) {
	if err != nil {
		var zero T
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, shared.WrapStorage(op, err)
	}
	return v, true, nil
}

func currentSession(ctx context.Context, q querier, branchID int64, forUpdate bool) (BranchSession, bool, error) {
	sql := `SELECT ` + sessionColumns + ` FROM branch_session WHERE branch_id=$1 AND is_current`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	s, err := scanSession(q.QueryRow(ctx, sql, branchID))
	return optional(s, err, "load current session")
}

func latestDayInfo(ctx context.Context, q querier, branchID int64) (DayBeginEndInfo, bool, error) {
	info, err := scanDayInfo(q.QueryRow(ctx, `SELECT `+dayInfoColumns+` FROM day_begin_end_info
WHERE branch_id=$1 AND latest_status IN ('BEGIN','END') ORDER BY working_date DESC, id DESC LIMIT 1`, branchID))
	return optional(info, err, "load latest day info")
}

// CurrentSession returns the branch's current session, if any.
func (r *PgRepository) CurrentSession(ctx context.Context, branchID int64) (BranchSession, bool, error) {
	return currentSession(ctx, r.pool, branchID, false)
}

// LatestDayInfo returns the most recent begun or ended working day.
func (r *PgRepository) LatestDayInfo(ctx context.Context, branchID int64) (DayBeginEndInfo, bool, error) {
	return latestDayInfo(ctx, r.pool, branchID)
}

// DayInfoWithDetails loads one working day and its ordered detail trail.
func (r *PgRepository) DayInfoWithDetails(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, error) {
	info, err := scanDayInfo(r.pool.QueryRow(ctx, `SELECT `+dayInfoColumns+` FROM day_begin_end_info
WHERE branch_id=$1 AND working_date=$2`, branchID, date))
	info, found, err := optional(info, err, "load day info")
	if err != nil {
		return DayBeginEndInfo{}, err
	}
	if !found {
		return DayBeginEndInfo{}, fmt.Errorf("%w: day info for branch %d on %s", shared.ErrNotFound, branchID, date.Format(time.DateOnly))
	}
	rows, err := r.pool.Query(ctx, `SELECT id, info_id, branch_id, status, user_id, at
FROM day_begin_end_info_detail WHERE info_id=$1 AND branch_id=$2 ORDER BY id ASC`, info.ID, branchID)
	if err != nil {
		return DayBeginEndInfo{}, shared.WrapStorage("load day details", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d DayBeginEndDetail
		if err := rows.Scan(&d.ID, &d.InfoID, &d.BranchID, &d.Status, &d.UserID, &d.At); err != nil {
			return DayBeginEndInfo{}, shared.WrapStorage("scan day detail", err)
		}
		info.Details = append(info.Details, d)
	}
	return info, shared.WrapStorage("iterate day details", rows.Err())
}

func (r *txRepository) LatestDayInfo(ctx context.Context, branchID int64) (DayBeginEndInfo, bool, error) {
	return latestDayInfo(ctx, r.tx, branchID)
}

func (r *txRepository) FindDayInfo(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, bool, error) {
	info, err := scanDayInfo(r.tx.QueryRow(ctx, `SELECT `+dayInfoColumns+` FROM day_begin_end_info
WHERE branch_id=$1 AND working_date=$2 FOR UPDATE`, branchID, date))
	return optional(info, err, "find day info")
}

func (r *txRepository) InsertDayInfo(ctx context.Context, info DayBeginEndInfo) (DayBeginEndInfo, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO day_begin_end_info (branch_id, working_date, latest_status)
VALUES ($1,$2,$3) RETURNING id`, info.BranchID, info.WorkingDate, info.LatestStatus).Scan(&info.ID)
	if err != nil {
		return DayBeginEndInfo{}, mapUnique("insert day info", err)
	}
	return info, nil
}

func (r *txRepository) UpdateDayInfoStatus(ctx context.Context, infoID int64, status DayStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE day_begin_end_info SET latest_status=$2 WHERE id=$1`, infoID, status)
	if err != nil {
		return shared.WrapStorage("update day info", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: day info %d", shared.ErrNotFound, infoID)
	}
	return nil
}

func (r *txRepository) AppendDayDetail(ctx context.Context, d DayBeginEndDetail) (DayBeginEndDetail, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO day_begin_end_info_detail (info_id, branch_id, status, user_id, at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, d.InfoID, d.BranchID, d.Status, d.UserID, d.At).Scan(&d.ID)
	if err != nil {
		return DayBeginEndDetail{}, shared.WrapStorage("append day detail", err)
	}
	return d, nil
}

func (r *txRepository) CurrentSessionForUpdate(ctx context.Context, branchID int64) (BranchSession, bool, error) {
	return currentSession(ctx, r.tx, branchID, true)
}

func (r *txRepository) HasAnySession(ctx context.Context, branchID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branch_session WHERE branch_id=$1)`, branchID).Scan(&exists)
	return exists, shared.WrapStorage("check sessions", err)
}

func (r *txRepository) InsertSession(ctx context.Context, s BranchSession) (BranchSession, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO branch_session (branch_id, session_from, from_date, to_date, is_current, is_first)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, s.BranchID, s.SessionFrom, s.FromDate, s.ToDate, s.IsCurrent, s.IsFirst).Scan(&s.ID)
	if err != nil {
		return BranchSession{}, mapUnique("insert session", err)
	}
	return s, nil
}

func (r *txRepository) CloseSession(ctx context.Context, sessionID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE branch_session SET is_current=FALSE, session_to=$2 WHERE id=$1 AND is_current`, sessionID, at)
	if err != nil {
		return shared.WrapStorage("close session", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: session %d no longer current", shared.ErrConcurrentModification, sessionID)
	}
	return nil
}

// mapUnique turns unique index violations on session tables into lost races.
func mapUnique(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", shared.ErrConcurrentModification, pgErr.ConstraintName)
	}
	return shared.WrapStorage(op, err)
}
