package utils

import "time"

// Clock abstracts "now" so cutoff/today checks can be tested at exact
// boundaries. Production code uses SystemClock; tests inject FixedClock.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time { return c.Instant }
