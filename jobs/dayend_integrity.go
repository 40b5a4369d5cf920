package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/branch-ledger/internal/jobs"
	"github.com/odyssey-erp/branch-ledger/internal/vouchers"
)

// BalanceChecker recomputes per-voucher totals for one branch day.
type BalanceChecker interface {
	CheckDayBalances(ctx context.Context, branchID int64, date time.Time) ([]vouchers.DayBalanceIssue, error)
}

// DayEndIntegrityJob verifies that every voucher of a closed day still balances.
type DayEndIntegrityJob struct {
	Checker BalanceChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewDayEndIntegrityJob initialises the day-end scan handler.
func NewDayEndIntegrityJob(checker BalanceChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *DayEndIntegrityJob {
	return &DayEndIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the scan. Imbalances are reported, not retried.
func (j *DayEndIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("dayend integrity: handler not configured")
	}
	var payload DayEndPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	date, err := payload.Date()
	if err != nil || payload.BranchID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskDayEndIntegrity)
	start := time.Now()
	logger := j.logger().With(
		slog.Int64("branch_id", payload.BranchID),
		slog.String("working_date", payload.WorkingDate),
	)

	issues, err := j.Checker.CheckDayBalances(ctx, payload.BranchID, date)
	if err != nil {
		logger.Error("dayend integrity scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, issue := range issues {
		logger.Warn("voucher out of balance",
			slog.Int64("voucher_id", issue.VoucherID),
			slog.Int64("voucher_no", issue.VoucherNo),
			slog.String("debit", issue.Debit.StringFixed(2)),
			slog.String("credit", issue.Credit.StringFixed(2)),
		)
	}
	j.Metrics.AddImbalances(payload.BranchID, len(issues))

	logger.Info("completed dayend integrity scan",
		slog.Int("imbalanced", len(issues)),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *DayEndIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
