package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// Repository abstracts persistence of sessions and the day begin/end trail.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CurrentSession(ctx context.Context, branchID int64) (BranchSession, bool, error)
	LatestDayInfo(ctx context.Context, branchID int64) (DayBeginEndInfo, bool, error)
	DayInfoWithDetails(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, error)
}

// TxRepository exposes operations that must share one transaction.
type TxRepository interface {
	LatestDayInfo(ctx context.Context, branchID int64) (DayBeginEndInfo, bool, error)
	FindDayInfo(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, bool, error)
	InsertDayInfo(ctx context.Context, info DayBeginEndInfo) (DayBeginEndInfo, error)
	UpdateDayInfoStatus(ctx context.Context, infoID int64, status DayStatus) error
	AppendDayDetail(ctx context.Context, detail DayBeginEndDetail) (DayBeginEndDetail, error)
	CurrentSessionForUpdate(ctx context.Context, branchID int64) (BranchSession, bool, error)
	HasAnySession(ctx context.Context, branchID int64) (bool, error)
	InsertSession(ctx context.Context, s BranchSession) (BranchSession, error)
	CloseSession(ctx context.Context, sessionID int64, at time.Time) error
}

// AuditPort records session events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DayEndHook is notified after a working day closes.
type DayEndHook interface {
	DayClosed(ctx context.Context, branchID int64, workingDate time.Time) error
}

// Recorder receives transition counters.
type Recorder interface {
	ObserveDayTransition(status string)
}

// Service is the branch session manager.
type Service struct {
	repo     Repository
	lock     shared.BranchLedgerLock
	audit    AuditPort
	hook     DayEndHook
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the session manager.
func NewService(repo Repository, lock shared.BranchLedgerLock, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, lock: lock, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithDayEndHook registers the day-end notification target.
func (s *Service) WithDayEndHook(hook DayEndHook) {
	s.hook = hook
}

// WithRecorder registers a metrics recorder.
func (s *Service) WithRecorder(r Recorder) {
	s.recorder = r
}

// OpenDay begins a working day for the branch and marks a new current session.
func (s *Service) OpenDay(ctx context.Context, in OpenDayInput) (BranchSession, error) {
	if err := in.Validate(); err != nil {
		return BranchSession{}, err
	}
	date := WorkingDate(in.Date)
	var opened BranchSession
	err := shared.WithBranchLock(ctx, s.lock, in.BranchID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			latest, found, err := tx.LatestDayInfo(ctx, in.BranchID)
			if err != nil {
				return err
			}
			status := DayStatusClosed
			if found {
				status = latest.LatestStatus
			}
			if !canBegin(status) {
				return fmt.Errorf("%w: branch %d day %s not ended", shared.ErrSessionConflict, in.BranchID, latest.WorkingDate.Format(time.DateOnly))
			}
			if found && !date.After(latest.WorkingDate) {
				return shared.Invalid("working date %s must follow %s", date.Format(time.DateOnly), latest.WorkingDate.Format(time.DateOnly))
			}
			if _, current, err := tx.CurrentSessionForUpdate(ctx, in.BranchID); err != nil {
				return err
			} else if current {
				return fmt.Errorf("%w: branch %d already has a current session", shared.ErrSessionConflict, in.BranchID)
			}

			info, pending, err := tx.FindDayInfo(ctx, in.BranchID, date)
			if err != nil {
				return err
			}
			if pending {
				if err := tx.UpdateDayInfoStatus(ctx, info.ID, DayStatusBegin); err != nil {
					return err
				}
			} else {
				info, err = tx.InsertDayInfo(ctx, DayBeginEndInfo{
					BranchID:     in.BranchID,
					WorkingDate:  date,
					LatestStatus: DayStatusBegin,
				})
				if err != nil {
					return err
				}
			}
			at := s.now()
			if _, err := tx.AppendDayDetail(ctx, DayBeginEndDetail{
				InfoID:   info.ID,
				BranchID: in.BranchID,
				Status:   DayStatusBegin,
				UserID:   in.UserID,
				At:       at,
			}); err != nil {
				return err
			}
			hasAny, err := tx.HasAnySession(ctx, in.BranchID)
			if err != nil {
				return err
			}
			opened, err = tx.InsertSession(ctx, BranchSession{
				BranchID:    in.BranchID,
				SessionFrom: at,
				FromDate:    date,
				ToDate:      date,
				IsCurrent:   true,
				IsFirst:     !hasAny,
			})
			return err
		})
	})
	if err != nil {
		return BranchSession{}, err
	}
	s.logger.Info("branch day opened",
		slog.Int64("branch_id", in.BranchID),
		slog.String("working_date", date.Format(time.DateOnly)),
		slog.Int64("session_id", opened.ID))
	s.observe(DayStatusBegin)
	s.record(ctx, in.UserID, in.BranchID, "session.open", opened.ID, date)
	return opened, nil
}

// CloseDay ends the branch's open working day.
func (s *Service) CloseDay(ctx context.Context, branchID, userID int64) (BranchSession, error) {
	if branchID <= 0 || userID <= 0 {
		return BranchSession{}, shared.Invalid("close day: branch and user required")
	}
	var closed BranchSession
	err := shared.WithBranchLock(ctx, s.lock, branchID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			latest, found, err := tx.LatestDayInfo(ctx, branchID)
			if err != nil {
				return err
			}
			if !found || !canEnd(latest.LatestStatus) {
				return fmt.Errorf("%w: branch %d has no begun day to end", shared.ErrStateTransition, branchID)
			}
			current, ok, err := tx.CurrentSessionForUpdate(ctx, branchID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: branch %d day begun without current session", shared.ErrStateTransition, branchID)
			}
			at := s.now()
			if err := tx.UpdateDayInfoStatus(ctx, latest.ID, DayStatusEnd); err != nil {
				return err
			}
			if _, err := tx.AppendDayDetail(ctx, DayBeginEndDetail{
				InfoID:   latest.ID,
				BranchID: branchID,
				Status:   DayStatusEnd,
				UserID:   userID,
				At:       at,
			}); err != nil {
				return err
			}
			if err := tx.CloseSession(ctx, current.ID, at); err != nil {
				return err
			}
			closed = current
			closed.IsCurrent = false
			closed.SessionTo = &at
			return nil
		})
	})
	if err != nil {
		return BranchSession{}, err
	}
	s.logger.Info("branch day closed",
		slog.Int64("branch_id", branchID),
		slog.String("working_date", closed.ToDate.Format(time.DateOnly)),
		slog.Int64("session_id", closed.ID))
	s.observe(DayStatusEnd)
	s.record(ctx, userID, branchID, "session.close", closed.ID, closed.ToDate)
	if s.hook != nil {
		if err := s.hook.DayClosed(ctx, branchID, closed.ToDate); err != nil {
			s.logger.Warn("day end hook failed", slog.Int64("branch_id", branchID), slog.Any("error", err))
		}
	}
	return closed, nil
}

// CurrentWorkingDate returns the working date of the open session.
func (s *Service) CurrentWorkingDate(ctx context.Context, branchID int64) (time.Time, error) {
	current, ok, err := s.repo.CurrentSession(ctx, branchID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("%w: branch %d", shared.ErrNoOpenSession, branchID)
	}
	return current.ToDate, nil
}

// Status reports the latest day status, CLOSED when the branch never opened a day.
func (s *Service) Status(ctx context.Context, branchID int64) (DayStatus, error) {
	latest, found, err := s.repo.LatestDayInfo(ctx, branchID)
	if err != nil {
		return "", err
	}
	if !found {
		return DayStatusClosed, nil
	}
	return latest.LatestStatus, nil
}

// DayHistory returns the begin/end trail for one working date.
func (s *Service) DayHistory(ctx context.Context, branchID int64, date time.Time) (DayBeginEndInfo, error) {
	return s.repo.DayInfoWithDetails(ctx, branchID, WorkingDate(date))
}

func (s *Service) observe(status DayStatus) {
	if s.recorder != nil {
		s.recorder.ObserveDayTransition(string(status))
	}
}

func (s *Service) record(ctx context.Context, actorID, branchID int64, action string, sessionID int64, date time.Time) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		BranchID: branchID,
		Action:   action,
		Entity:   "branch_session",
		EntityID: fmt.Sprintf("%d", sessionID),
		Meta:     map[string]any{"working_date": date.Format(time.DateOnly)},
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
