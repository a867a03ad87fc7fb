package scheduler

import "time"

// ScheduleEvent represents a pending scheduled upload in the scheduler
// heap. It is an in-memory only type; the heap is rebuilt from the
// store on daemon restart.
type ScheduleEvent struct {
	// JobID is the upload job released when TriggerAt is reached.
	JobID string
	// TriggerAt is the wall-clock time when the job should fire.
	TriggerAt time.Time
	// CronExpr is the cron expression for recurring uploads. Empty
	// means one-shot.
	CronExpr string
}
