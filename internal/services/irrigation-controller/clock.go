package irrigation_controller

import "time"

// Clock is the only source of time for the controller. time.Now carries a
// monotonic reading, so elapsed durations are immune to wall-clock jumps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
