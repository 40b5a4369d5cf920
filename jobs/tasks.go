package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueLedger carries integrity work and is polled ahead of the default queue.
	QueueLedger = "ledger"
	// TaskDayEndIntegrity re-checks voucher balances for a closed working day.
	TaskDayEndIntegrity = "ledger:dayend_integrity"
	// TaskIdempotencyCleanup purges expired request keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// DayEndPayload identifies the branch day to scan.
type DayEndPayload struct {
	BranchID    int64  `json:"branch_id"`
	WorkingDate string `json:"working_date"`
}

// Date parses WorkingDate.
func (p DayEndPayload) Date() (time.Time, error) {
	return time.Parse(time.DateOnly, p.WorkingDate)
}

// NewDayEndIntegrityTask constructs an Asynq task.
func NewDayEndIntegrityTask(payload DayEndPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDayEndIntegrity, data), nil
}

// dayEndTaskID makes enqueueing idempotent per branch day.
func dayEndTaskID(p DayEndPayload) string {
	return fmt.Sprintf("dayend:%d:%s", p.BranchID, p.WorkingDate)
}
