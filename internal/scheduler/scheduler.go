package scheduler

import (
	"container/heap"
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hostup/hostup/internal/store"
)

const maxSleepCap = 60 * time.Second

// Scheduler manages scheduled upload events using a min-heap. It runs
// a background goroutine that sleeps until the next event's trigger
// time, then calls the onTrigger callback with the job id.
type Scheduler struct {
	addChan    chan ScheduleEvent
	removeChan chan string
	ctx        context.Context
}

// New creates and starts a Scheduler. The onTrigger callback is
// invoked when a scheduled event fires; for recurring events the next
// occurrence is armed automatically. The scheduler goroutine exits
// when ctx is cancelled.
func New(ctx context.Context, onTrigger func(jobID string)) *Scheduler {
	s := &Scheduler{
		addChan:    make(chan ScheduleEvent, 64),
		removeChan: make(chan string, 64),
		ctx:        ctx,
	}
	go s.run(onTrigger)
	return s
}

// Add enqueues a new schedule event.
func (s *Scheduler) Add(event ScheduleEvent) {
	select {
	case s.addChan <- event:
	case <-s.ctx.Done():
	}
}

// Remove cancels a scheduled event by job id.
func (s *Scheduler) Remove(jobID string) {
	select {
	case s.removeChan <- jobID:
	case <-s.ctx.Done():
	}
}

// run is the core scheduler goroutine. It maintains a min-heap of
// events and sleeps with a 60s max-sleep-cap so clock steps and system
// sleep never strand an event. For recurring events the next cron
// occurrence is re-added after firing.
func (s *Scheduler) run(onTrigger func(string)) {
	h := &scheduleHeap{}
	heap.Init(h)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	resetTimer := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
		}
		if h.Len() == 0 {
			// no events, block on the channels alone
			return nil
		}
		dur := time.Until((*h)[0].TriggerAt)
		if dur > maxSleepCap {
			dur = maxSleepCap
		}
		if dur < 0 {
			dur = 0
		}
		timer = time.NewTimer(dur)
		return timer.C
	}

	timerCh := resetTimer()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event := <-s.addChan:
			heapPush(h, event)
			timerCh = resetTimer()

		case jobID := <-s.removeChan:
			heapRemoveByJob(h, jobID)
			timerCh = resetTimer()

		case <-timerCh:
			now := time.Now()
			for h.Len() > 0 && !(*h)[0].TriggerAt.After(now) {
				event := heapPop(h)
				onTrigger(event.JobID)
				if event.CronExpr != "" {
					next, err := nextCronOccurrence(event.CronExpr, time.Now())
					if err == nil {
						heapPush(h, ScheduleEvent{
							JobID:     event.JobID,
							TriggerAt: next,
							CronExpr:  event.CronExpr,
						})
					}
				}
			}
			timerCh = resetTimer()
		}
	}
}

// nextCronOccurrence returns the next time the cron expression fires
// strictly after start.
func nextCronOccurrence(expr string, start time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, start, false)
}

// NextOccurrence returns the next time the cron expression fires
// strictly after start.
func NextOccurrence(expr string, start time.Time) (time.Time, error) {
	return nextCronOccurrence(expr, start)
}

// ValidCron reports whether expr is a parseable cron expression.
func ValidCron(expr string) bool {
	return gronx.New().IsValid(expr)
}

// LoadSchedules builds the startup heap from the store's scheduled
// jobs. One-shot jobs whose time already passed need no event; the
// store's time filter has released them to the workers. Recurring jobs
// that fired while the daemon was down are re-armed at their next cron
// occurrence.
func LoadSchedules(scheduled []*store.ScheduledUpload, now time.Time) []ScheduleEvent {
	var future []ScheduleEvent
	for _, su := range scheduled {
		if su.At.After(now) {
			future = append(future, ScheduleEvent{
				JobID:     su.Job.ID,
				TriggerAt: su.At,
				CronExpr:  su.Recurrence,
			})
			continue
		}
		if su.Recurrence != "" {
			next, err := nextCronOccurrence(su.Recurrence, now)
			if err == nil {
				future = append(future, ScheduleEvent{
					JobID:     su.Job.ID,
					TriggerAt: next,
					CronExpr:  su.Recurrence,
				})
			}
		}
	}
	return future
}
