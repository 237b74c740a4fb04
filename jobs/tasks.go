package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRecurringRun materializes due recurring templates into invoices.
	TaskRecurringRun = "billing:recurring_run"
	// TaskReminderSweep runs the overdue/reminder pass then quote expiry.
	TaskReminderSweep = "billing:reminder_sweep"
)

// RunPayload parameterizes an engine run. Day overrides "today" for backfill
// and testing; empty means the current UTC day.
type RunPayload struct {
	Day string `json:"day,omitempty"`
}

// Today resolves the payload's effective day.
func (p RunPayload) Today(now time.Time) (time.Time, error) {
	if p.Day == "" {
		return now.UTC(), nil
	}
	return time.Parse("2006-01-02", p.Day)
}

// NewRecurringRunTask constructs the recurring invoice run task.
func NewRecurringRunTask(payload RunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecurringRun, data), nil
}

// NewReminderSweepTask constructs the reminder sweep task.
func NewReminderSweepTask(payload RunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReminderSweep, data), nil
}
