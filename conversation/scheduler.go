package conversation

import "time"

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	// Stop prevents the callback from running. It returns false if the callback already ran or was stopped.
	Stop() bool
}

// Scheduler runs callbacks after a delay. Mode transitions and staged component reveals
// go through a Scheduler so tests can control time.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules callbacks with the time package
type RealScheduler struct{}

// AfterFunc implements Scheduler
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
