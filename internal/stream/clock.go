package stream

import "time"

// clock abstracts monotonic time so pacing behavior can be tested against
// simulated time. time.Time carries a monotonic reading on this platform,
// so Sub and Add are immune to wall-clock adjustments.
type clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
