package reminder

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisalud/appointment-notifier/internal/appointment"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 13))
	return NewScheduler(5, 180*time.Second, 11, 56, time.UTC, rng)
}

func futureCandidate(id int64, date time.Time) appointment.ReminderCandidate {
	return appointment.ReminderCandidate{
		AppointmentID: id,
		Date:          date,
		TimeOfDay:     "09:00",
		LeadDays:      2,
	}
}

func TestPlanBatchOffsetsDistinctWithinWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC)
	target := day(2)
	anchor := time.Date(2026, 9, 3, 11, 56, 0, 0, time.UTC)

	var candidates []appointment.ReminderCandidate
	for i := int64(1); i <= 5; i++ {
		candidates = append(candidates, futureCandidate(i, target))
	}

	planned := testScheduler(t).Plan(now, candidates)
	require.Len(t, planned, 5)

	seen := make(map[time.Time]bool)
	for _, p := range planned {
		offset := p.At.Sub(anchor)
		assert.GreaterOrEqual(t, offset, time.Duration(0))
		assert.Less(t, offset, 180*time.Second)
		assert.Zero(t, offset%time.Second, "offsets are whole seconds")
		assert.False(t, seen[p.At], "duplicate send time %s", p.At)
		seen[p.At] = true
	}
}

func TestPlanSecondBatchAdvancesWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC)
	target := day(2)
	anchor := time.Date(2026, 9, 3, 11, 56, 0, 0, time.UTC)

	var candidates []appointment.ReminderCandidate
	for i := int64(1); i <= 7; i++ {
		candidates = append(candidates, futureCandidate(i, target))
	}

	planned := testScheduler(t).Plan(now, candidates)
	require.Len(t, planned, 7)

	for i, p := range planned {
		offset := p.At.Sub(anchor)
		if i < 5 {
			assert.Less(t, offset, 180*time.Second, "candidate %d", i)
		} else {
			assert.GreaterOrEqual(t, offset, 180*time.Second, "candidate %d", i)
			assert.Less(t, offset, 360*time.Second, "candidate %d", i)
		}
	}
}

func TestPlanSeparateDatesGetSeparateBatches(t *testing.T) {
	now := time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC)

	planned := testScheduler(t).Plan(now, []appointment.ReminderCandidate{
		futureCandidate(1, day(2)),
		futureCandidate(2, day(3)),
	})
	require.Len(t, planned, 2)
	assert.Equal(t, 3, planned[0].At.Day())
	assert.Equal(t, 4, planned[1].At.Day())
}

func TestPlanSameDayFixedOffsets(t *testing.T) {
	now := time.Date(2026, 9, 1, 5, 0, 0, 0, time.UTC)

	cases := []struct {
		timeOfDay string
		want      time.Time
	}{
		{"10:30", time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)},
		{"13:00", time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)},
		{"15:00", time.Date(2026, 9, 1, 11, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		planned := testScheduler(t).Plan(now, []appointment.ReminderCandidate{{
			AppointmentID: 1,
			Date:          day(0),
			TimeOfDay:     tc.timeOfDay,
			LeadDays:      0,
		}})
		require.Len(t, planned, 1, "time %s", tc.timeOfDay)
		assert.True(t, planned[0].At.Equal(tc.want), "time %s: got %s", tc.timeOfDay, planned[0].At)
	}
}

func TestPlanClampsPastTimes(t *testing.T) {
	// Same-day appointment at 08:00 wants a send at 06:00, already gone.
	now := time.Date(2026, 9, 1, 7, 30, 0, 0, time.UTC)

	planned := testScheduler(t).Plan(now, []appointment.ReminderCandidate{{
		AppointmentID: 1,
		Date:          day(0),
		TimeOfDay:     "08:00",
		LeadDays:      0,
	}})
	require.Len(t, planned, 1)
	assert.True(t, planned[0].At.Equal(now.Add(5*time.Second)))
}

func TestPlanSkipsUnparseableSameDayTime(t *testing.T) {
	now := time.Date(2026, 9, 1, 5, 0, 0, 0, time.UTC)

	planned := testScheduler(t).Plan(now, []appointment.ReminderCandidate{{
		AppointmentID: 1,
		Date:          day(0),
		TimeOfDay:     "soon",
		LeadDays:      0,
	}})
	assert.Empty(t, planned)
}
