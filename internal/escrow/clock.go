package escrow

import "time"

// Clock supplies the current time. Injected so countdown logic is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Countdown is the time left until a dispute deadline, floored at zero.
type Countdown struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Zero reports whether the countdown has run out.
func (c Countdown) Zero() bool {
	return c.Hours == 0 && c.Minutes == 0 && c.Seconds == 0
}

// CountdownUntil computes the remaining time to deadline. Never negative:
// once the deadline passes it stays at {0,0,0}.
func CountdownUntil(clock Clock, deadline time.Time) Countdown {
	left := deadline.Sub(clock.Now())
	if left < 0 {
		return Countdown{}
	}
	total := int(left / time.Second)
	return Countdown{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}
