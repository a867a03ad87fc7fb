// Package scheduler provides upload scheduling for the hostup daemon.
// It implements a single-goroutine scheduler using a min-heap of
// ScheduleEvents sorted by trigger time, with a 60-second max-sleep-cap
// to handle NTP steps, DST transitions, and system sleep.
//
// The scheduler fires events and calls a registered OnTrigger callback
// to release jobs into the upload queue. It does not persist state; the
// heap is rebuilt from the store's schedule column on daemon restart.
package scheduler
