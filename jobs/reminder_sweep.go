package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ledgerline/ledgerline/internal/billing"
	jobmetrics "github.com/ledgerline/ledgerline/internal/jobs"
	"github.com/ledgerline/ledgerline/internal/platform/cache"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// ReminderSweepJob executes the overdue/reminder pass and quote expiry.
type ReminderSweepJob struct {
	Sweep   *billing.Sweep
	Lock    *cache.RunLock
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReminderSweepJob initialises the sweep handler.
func NewReminderSweepJob(sweep *billing.Sweep, lock *cache.RunLock, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReminderSweepJob {
	return &ReminderSweepJob{
		Sweep:   sweep,
		Lock:    lock,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *ReminderSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweep == nil {
		return errors.New("reminder sweep: handler not configured")
	}
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	today, err := payload.Today(j.clock())
	if err != nil {
		return asynq.SkipRetry
	}

	acquired, release, err := j.Lock.Acquire(ctx, shared.JobLockKey(TaskReminderSweep))
	if err != nil {
		return err
	}
	if !acquired {
		j.logger().Info("reminder sweep already in progress elsewhere, skipping")
		return nil
	}
	defer release()

	tracker := j.Metrics.Track(billing.JobReminderSweep)
	report, err := j.Sweep.Run(ctx, today)
	if err = tracker.End(err); err != nil {
		j.logger().Error("reminder sweep failed", slog.Any("error", err))
		return err
	}

	j.Metrics.AddReminders("sent", report.Reminders.Succeeded)
	j.Metrics.AddReminders("failed", report.Reminders.Failed)
	j.Metrics.AddExpiredQuotes(report.Quotes.Succeeded)
	j.logger().Info("reminder sweep completed",
		slog.Int64("overdue_marked", report.OverdueMarked),
		slog.Int("reminders_due", report.Reminders.Due),
		slog.Int("reminders_sent", report.Reminders.Succeeded),
		slog.Int("reminders_failed", report.Reminders.Failed),
		slog.Int("reminders_deduped", report.Reminders.Skipped),
		slog.Int("quotes_expired", report.Quotes.Succeeded),
	)
	return nil
}

func (j *ReminderSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
