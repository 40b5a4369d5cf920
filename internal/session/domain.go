package session

import (
	"time"

	"github.com/odyssey-erp/branch-ledger/internal/shared"
)

// DayStatus enumerates working-day states.
type DayStatus string

const (
	// DayStatusClosed is the implicit state of a branch that never opened a day.
	DayStatusClosed DayStatus = "CLOSED"
	DayStatusBegin  DayStatus = "BEGIN"
	DayStatusEnd    DayStatus = "END"
)

// BranchSession is the branch working-day session. At most one row per branch is current.
type BranchSession struct {
	ID          int64
	BranchID    int64
	SessionFrom time.Time
	SessionTo   *time.Time
	FromDate    time.Time
	ToDate      time.Time
	IsCurrent   bool
	IsFirst     bool
}

// DayBeginEndInfo is the per-branch, per-working-date header. It owns its detail trail.
type DayBeginEndInfo struct {
	ID           int64
	BranchID     int64
	WorkingDate  time.Time
	LatestStatus DayStatus
	Details      []DayBeginEndDetail
}

// DayBeginEndDetail is one append-only audit record; it only knows its owner's id.
type DayBeginEndDetail struct {
	ID       int64
	InfoID   int64
	BranchID int64
	Status   DayStatus
	UserID   int64
	At       time.Time
}

// OpenDayInput groups parameters for opening a working day.
type OpenDayInput struct {
	BranchID int64     `validate:"required,gt=0"`
	Date     time.Time
	UserID   int64     `validate:"required,gt=0"`
}

// Validate checks the input shape.
func (in OpenDayInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return shared.Invalid("open day: %v", err)
	}
	if in.Date.IsZero() {
		return shared.Invalid("open day: working date required")
	}
	return nil
}

// WorkingDate truncates t to a calendar date in UTC.
func WorkingDate(t time.Time) time.Time {
	return shared.DateOf(t)
}

// canBegin reports whether a Begin may follow latest.
func canBegin(latest DayStatus) bool {
	return latest == DayStatusClosed || latest == DayStatusEnd
}

// canEnd reports whether an End may follow latest.
func canEnd(latest DayStatus) bool {
	return latest == DayStatusBegin
}
