package trigger

import (
	"testing"
	"time"

	taskrundomain "github.com/billfold/billfold/internal/taskrun/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeOfDayDef(value string) taskrundomain.Definition {
	return taskrundomain.Definition{
		Key:          "renewals",
		TriggerKind:  taskrundomain.TriggerTimeOfDay,
		TriggerValue: value,
		Scope:        taskrundomain.ScopeTenant,
		Enabled:      true,
	}
}

func intervalDef(minutes string) taskrundomain.Definition {
	return taskrundomain.Definition{
		Key:          "service_changes",
		TriggerKind:  taskrundomain.TriggerInterval,
		TriggerValue: minutes,
		Scope:        taskrundomain.ScopeTenant,
		Enabled:      true,
	}
}

func completedRun(started, ended time.Time) *taskrundomain.Run {
	return &taskrundomain.Run{ID: 1, TaskKey: "renewals", StartedAt: started, EndedAt: &ended}
}

func TestDisabledTaskNeverEligible(t *testing.T) {
	def := timeOfDayDef("00:00")
	def.Enabled = false

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	eligible, _, err := Evaluate(def, nil, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestTimeOfDayBeforeScheduledTime(t *testing.T) {
	def := timeOfDayDef("09:00")

	now := time.Date(2024, 3, 10, 8, 58, 0, 0, time.UTC)
	eligible, _, err := Evaluate(def, nil, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestTimeOfDayAtScheduledTime(t *testing.T) {
	def := timeOfDayDef("09:00")

	now := time.Date(2024, 3, 10, 9, 2, 0, 0, time.UTC)
	eligible, notBefore, err := Evaluate(def, nil, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), notBefore)
}

func TestTimeOfDayBucketRounding(t *testing.T) {
	def := timeOfDayDef("09:03")

	// 09:01 rounds to 09:00; the 09:03 target also rounds to 09:00, so the
	// clock has reached the scheduled bucket.
	now := time.Date(2024, 3, 10, 9, 1, 0, 0, time.UTC)
	eligible, _, err := Evaluate(def, nil, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestTimeOfDayCompletedTodayNotEligible(t *testing.T) {
	def := timeOfDayDef("09:00")

	started := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	ended := started.Add(2 * time.Minute)
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

	eligible, _, err := Evaluate(def, completedRun(started, ended), now, time.UTC, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestTimeOfDayCompletedYesterdayEligible(t *testing.T) {
	def := timeOfDayDef("09:00")

	started := time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC)
	ended := started.Add(2 * time.Minute)
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	eligible, _, err := Evaluate(def, completedRun(started, ended), now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestTimeOfDayLateRunDoesNotPushNextDay(t *testing.T) {
	def := timeOfDayDef("00:00")

	// Yesterday's run finished at 23:58. Less than 24h later the calendar
	// day has still changed, so today's run must fire.
	started := time.Date(2024, 3, 9, 23, 55, 0, 0, time.UTC)
	ended := time.Date(2024, 3, 9, 23, 58, 0, 0, time.UTC)
	now := time.Date(2024, 3, 10, 0, 5, 0, 0, time.UTC)

	eligible, _, err := Evaluate(def, completedRun(started, ended), now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestTimeOfDayTenantTimezone(t *testing.T) {
	def := timeOfDayDef("09:00")
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)

	// 02:30 UTC is 09:30 in Jakarta (UTC+7).
	now := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	eligible, notBefore, err := Evaluate(def, nil, now, jakarta, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, jakarta).Unix(), notBefore.Unix())

	// 01:30 UTC is 08:30 local, before the scheduled time.
	now = time.Date(2024, 3, 10, 1, 30, 0, 0, time.UTC)
	eligible, _, err = Evaluate(def, nil, now, jakarta, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestIntervalNeverRunEligible(t *testing.T) {
	def := intervalDef("60")

	now := time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC)
	eligible, notBefore, err := Evaluate(def, nil, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.True(t, notBefore.IsZero())
}

func TestIntervalElapsed(t *testing.T) {
	def := intervalDef("60")

	started := time.Date(2024, 3, 10, 10, 2, 0, 0, time.UTC)
	ended := started.Add(time.Minute)
	last := completedRun(started, ended)

	// Last start rounds to 10:00, so the next slot is 11:00.
	now := time.Date(2024, 3, 10, 10, 59, 0, 0, time.UTC)
	eligible, _, err := Evaluate(def, last, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)

	now = time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	eligible, notBefore, err := Evaluate(def, last, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC), notBefore)
}

func TestInFlightRunBlocks(t *testing.T) {
	def := intervalDef("60")

	started := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	last := &taskrundomain.Run{ID: 1, TaskKey: "service_changes", StartedAt: started}

	now := started.Add(3 * time.Hour)
	eligible, _, err := Evaluate(def, last, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.False(t, eligible)
}

func TestAbandonedRunIgnored(t *testing.T) {
	def := intervalDef("60")

	started := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	last := &taskrundomain.Run{ID: 1, TaskKey: "service_changes", StartedAt: started}

	// Past the stale window the dangling run is treated as never having
	// happened.
	now := started.Add(6*time.Hour + time.Minute)
	eligible, notBefore, err := Evaluate(def, last, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
	assert.True(t, notBefore.IsZero())
}

func TestAbandonedTimeOfDayRunRetriesSameDay(t *testing.T) {
	def := timeOfDayDef("00:00")

	started := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	last := &taskrundomain.Run{ID: 1, TaskKey: "renewals", StartedAt: started}

	now := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	eligible, _, err := Evaluate(def, last, now, time.UTC, Config{})
	require.NoError(t, err)
	assert.True(t, eligible)
}

func TestInvalidTriggerValues(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	_, _, err := Evaluate(timeOfDayDef("25:00"), nil, now, time.UTC, Config{})
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)

	_, _, err = Evaluate(timeOfDayDef("not-a-time"), nil, now, time.UTC, Config{})
	assert.ErrorIs(t, err, ErrInvalidTimeOfDay)

	_, _, err = Evaluate(intervalDef("0"), nil, now, time.UTC, Config{})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, _, err = Evaluate(intervalDef("-5"), nil, now, time.UTC, Config{})
	assert.ErrorIs(t, err, ErrInvalidInterval)
}
