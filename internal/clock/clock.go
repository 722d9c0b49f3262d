// Package clock abstracts the current time so jobs are testable against a
// simulated calendar.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

var Module = fx.Provide(func() Clock { return SystemClock{} })
