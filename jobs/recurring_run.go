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

// RecurringRunJob executes the recurring invoice materializer.
type RecurringRunJob struct {
	Materializer *billing.Materializer
	Lock         *cache.RunLock
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewRecurringRunJob initialises the recurring run handler.
func NewRecurringRunJob(materializer *billing.Materializer, lock *cache.RunLock, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecurringRunJob {
	return &RecurringRunJob{
		Materializer: materializer,
		Lock:         lock,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *RecurringRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Materializer == nil {
		return errors.New("recurring run: handler not configured")
	}
	var payload RunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	today, err := payload.Today(j.clock())
	if err != nil {
		return asynq.SkipRetry
	}

	acquired, release, err := j.Lock.Acquire(ctx, shared.JobLockKey(TaskRecurringRun))
	if err != nil {
		return err
	}
	if !acquired {
		j.logger().Info("recurring run already in progress elsewhere, skipping")
		return nil
	}
	defer release()

	tracker := j.Metrics.Track(billing.JobRecurringRun)
	report, err := j.Materializer.Run(ctx, today)
	if err = tracker.End(err); err != nil {
		j.logger().Error("recurring run failed", slog.Any("error", err))
		return err
	}

	j.Metrics.AddGenerated(report.Succeeded)
	j.logger().Info("recurring run completed",
		slog.Int("due", report.Due),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)
	return nil
}

func (j *RecurringRunJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
