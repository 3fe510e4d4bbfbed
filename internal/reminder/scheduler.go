package reminder

import (
	"log"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/legacy"
)

// PlannedSend is one candidate with its computed send time.
type PlannedSend struct {
	Candidate appointment.ReminderCandidate
	At        time.Time
}

// Scheduler assigns a concrete send timestamp to every due candidate,
// shaping same-date reminders into fixed-size batches with jittered
// per-second offsets so a day's reminders never fire as one burst.
type Scheduler struct {
	batchSize    int
	batchWindow  time.Duration
	anchorHour   int
	anchorMinute int
	loc          *time.Location
	rng          *rand.Rand
}

func NewScheduler(batchSize int, batchWindow time.Duration, anchorHour, anchorMinute int, loc *time.Location, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Scheduler{
		batchSize:    batchSize,
		batchWindow:  batchWindow,
		anchorHour:   anchorHour,
		anchorMinute: anchorMinute,
		loc:          loc,
		rng:          rng,
	}
}

// batchAllocator hands out jittered offsets for candidates sharing a target
// date. One allocator lives for exactly one scheduling run.
type batchAllocator struct {
	size   int
	window time.Duration
	rng    *rand.Rand
	days   map[time.Time]*dayBatches
}

type dayBatches struct {
	batch   int
	used    int
	offsets []time.Duration
}

func newBatchAllocator(size int, window time.Duration, rng *rand.Rand) *batchAllocator {
	return &batchAllocator{
		size:   size,
		window: window,
		rng:    rng,
		days:   make(map[time.Time]*dayBatches),
	}
}

// next returns the offset from the day's anchor for one more candidate on
// the given date: full 180s windows per completed batch plus one of the
// batch's distinct jitter offsets.
func (a *batchAllocator) next(date time.Time) time.Duration {
	day := a.days[date]
	if day == nil {
		day = &dayBatches{batch: -1}
		a.days[date] = day
	}
	if day.offsets == nil || day.used == a.size {
		day.batch++
		day.used = 0
		day.offsets = a.sampleOffsets()
	}
	offset := time.Duration(day.batch)*a.window + day.offsets[day.used]
	day.used++
	return offset
}

// sampleOffsets draws size distinct second offsets in [0, window), sorted
// ascending, so candidates in one batch keep feed order and never collide.
func (a *batchAllocator) sampleOffsets() []time.Duration {
	seconds := int(a.window / time.Second)
	perm := a.rng.Perm(seconds)[:a.size]
	sort.Ints(perm)
	offsets := make([]time.Duration, a.size)
	for i, s := range perm {
		offsets[i] = time.Duration(s) * time.Second
	}
	return offsets
}

// Plan computes send times for all candidates. Same-day zero-lead reminders
// use the fixed offset rule against the appointment time; everything else
// anchors on the target date and goes through the batch allocator. Times
// that already passed are clamped just past now.
func (s *Scheduler) Plan(now time.Time, candidates []appointment.ReminderCandidate) []PlannedSend {
	alloc := newBatchAllocator(s.batchSize, s.batchWindow, s.rng)
	today := CivilDate(now.In(s.loc))

	var planned []PlannedSend
	for _, c := range candidates {
		date := CivilDate(c.Date)

		var at time.Time
		if c.LeadDays == 0 && date.Equal(today) {
			sameDay, ok := s.sameDaySendTime(c)
			if !ok {
				continue
			}
			at = sameDay
		} else {
			anchor := time.Date(date.Year(), date.Month(), date.Day(), s.anchorHour, s.anchorMinute, 0, 0, s.loc)
			at = anchor.Add(alloc.next(date))
		}

		if !at.After(now) {
			at = now.Add(5 * time.Second)
		}
		planned = append(planned, PlannedSend{Candidate: c, At: at})
	}
	return planned
}

// sameDaySendTime subtracts a fixed margin before the appointment: 2h for
// morning slots up to 10:30, 3h up to 13:00, 4h after that.
func (s *Scheduler) sameDaySendTime(c appointment.ReminderCandidate) (time.Time, bool) {
	clock, err := legacy.ParseClock(c.TimeOfDay)
	if err != nil {
		log.Printf("reminder: unparseable appointment time appointment=%d time=%q error=%v", c.AppointmentID, c.TimeOfDay, err)
		return time.Time{}, false
	}

	var lead time.Duration
	switch {
	case clock.Minutes() <= 10*60+30:
		lead = 2 * time.Hour
	case clock.Minutes() <= 13*60:
		lead = 3 * time.Hour
	default:
		lead = 4 * time.Hour
	}

	date := CivilDate(c.Date)
	apptAt := time.Date(date.Year(), date.Month(), date.Day(), clock.Hour, clock.Minute, 0, 0, s.loc)
	return apptAt.Add(-lead), true
}
