// Package trigger decides task eligibility from the persisted run history.
// It is pure: callers supply the last run, the clock reading, and the
// tenant's timezone.
package trigger

import (
	"errors"
	"strconv"
	"strings"
	"time"

	taskrundomain "github.com/billfold/billfold/internal/taskrun/domain"
)

var (
	ErrInvalidTimeOfDay = errors.New("invalid_time_of_day_trigger")
	ErrInvalidInterval  = errors.New("invalid_interval_trigger")
)

// Config carries the rounding bucket and the abandoned-run window. Both were
// fixed constants in older deployments; they stay tunable here.
type Config struct {
	Bucket     time.Duration
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Bucket <= 0 {
		c.Bucket = 5 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 6 * time.Hour
	}
	return c
}

// Evaluate reports whether the task may start now, and the instant runs
// started at or after which must block a concurrent claim. A nil last run
// means the task never ran in this scope.
//
// An in-flight run younger than the stale window blocks outright; past the
// window it is abandoned and ignored, so a crashed pipeline self-heals
// without operator action.
func Evaluate(def taskrundomain.Definition, last *taskrundomain.Run, now time.Time, loc *time.Location, cfg Config) (bool, time.Time, error) {
	cfg = cfg.withDefaults()

	if !def.Enabled {
		return false, time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	if last != nil && last.InFlight() {
		if now.Sub(last.StartedAt) <= cfg.StaleAfter {
			return false, time.Time{}, nil
		}
		// Abandoned: evaluate as if the dangling run never happened.
		last = nil
	}

	switch def.TriggerKind {
	case taskrundomain.TriggerTimeOfDay:
		return evaluateTimeOfDay(def.TriggerValue, last, now, loc, cfg)
	case taskrundomain.TriggerInterval:
		return evaluateInterval(def.TriggerValue, last, now, cfg)
	default:
		return false, time.Time{}, nil
	}
}

func evaluateTimeOfDay(value string, last *taskrundomain.Run, now time.Time, loc *time.Location, cfg Config) (bool, time.Time, error) {
	hour, minute, err := parseTimeOfDay(value)
	if err != nil {
		return false, time.Time{}, err
	}

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	scheduled := midnight.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)

	if local.Truncate(cfg.Bucket).Before(scheduled.Truncate(cfg.Bucket)) {
		return false, midnight, nil
	}

	if last != nil && last.EndedAt != nil {
		// Compare calendar dates, not a 24h delta: a run at 23:55 must not
		// push the next day's run past midnight.
		lastDay := localDay(*last.EndedAt, loc)
		if !midnight.After(lastDay) {
			return false, midnight, nil
		}
	}
	return true, midnight, nil
}

func evaluateInterval(value string, last *taskrundomain.Run, now time.Time, cfg Config) (bool, time.Time, error) {
	minutes, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || minutes <= 0 {
		return false, time.Time{}, ErrInvalidInterval
	}

	if last == nil {
		return true, time.Time{}, nil
	}

	next := last.StartedAt.Truncate(cfg.Bucket).Add(time.Duration(minutes) * time.Minute)
	if now.Before(next) {
		return false, next, nil
	}
	return true, next, nil
}

func parseTimeOfDay(value string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidTimeOfDay
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, ErrInvalidTimeOfDay
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, ErrInvalidTimeOfDay
	}
	return hour, minute, nil
}

func localDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
