package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Activity represents a record stored in activity_logs.
type Activity struct {
	EntityType  string
	EntityID    string
	Action      string
	Description string
	UserID      *uuid.UUID
	At          time.Time
}

// ActivityRecorder appends entries to the activity log. The billing engine
// treats recording as fire-and-forget: failures are logged, never retried.
type ActivityRecorder interface {
	Record(ctx context.Context, activity Activity) error
}

// ActivityLog writes records into activity_logs.
type ActivityLog struct {
	pool *pgxpool.Pool
}

// NewActivityLog returns a new ActivityLog.
func NewActivityLog(pool *pgxpool.Pool) *ActivityLog {
	return &ActivityLog{pool: pool}
}

// Record persists the log entry.
func (l *ActivityLog) Record(ctx context.Context, activity Activity) error {
	if l == nil {
		return errors.New("activity log not initialised")
	}
	if activity.Action == "" || activity.EntityType == "" || activity.EntityID == "" {
		return errors.New("activity log requires action/entity_type/entity_id")
	}
	var userID any
	if activity.UserID != nil {
		userID = *activity.UserID
	}
	var at any
	if !activity.At.IsZero() {
		at = activity.At
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO activity_logs (entity_type, entity_id, action, description, user_id, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, activity.EntityType, activity.EntityID, activity.Action, activity.Description, userID, at)
	return err
}
