package billing

import "time"

// RecordError identifies a due record that failed processing and why. Failed
// records keep their due condition and are retried on the next run.
type RecordError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// RunReport aggregates per-record outcomes of one engine run. Operators
// monitor these counts; a failed record is reported, never silently dropped.
type RunReport struct {
	Job       string        `json:"job"`
	Due       int           `json:"due"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []RecordError `json:"errors,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// NewRunReport starts a report for the named job.
func NewRunReport(job string, startedAt time.Time) *RunReport {
	return &RunReport{Job: job, StartedAt: startedAt}
}

func (r *RunReport) success() {
	r.Succeeded++
}

func (r *RunReport) skip() {
	r.Skipped++
}

func (r *RunReport) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, RecordError{ID: id, Reason: err.Error()})
}

// Finish stamps the total duration.
func (r *RunReport) Finish(now time.Time) *RunReport {
	r.Duration = now.Sub(r.StartedAt)
	return r
}

// SweepReport combines the two passes of the reminder sweep.
type SweepReport struct {
	OverdueMarked int64      `json:"overdue_marked"`
	Reminders     *RunReport `json:"reminders"`
	Quotes        *RunReport `json:"quotes"`
}
