package scheduler

import "time"

// Clock abstracts timer creation so tests can drive the quiet period
// without sleeping.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the armed-timer handle returned by a Clock.
type Timer interface {
	// Stop disarms the timer. Reports false if it already fired.
	Stop() bool
}

// RealClock is the production Clock backed by time.AfterFunc.
type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct{ t *time.Timer }

func (rt realTimer) Stop() bool { return rt.t.Stop() }
