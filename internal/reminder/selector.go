package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
)

// CandidateSource is the repository slice the selector reads from.
type CandidateSource interface {
	ReminderCandidates(ctx context.Context, from, to time.Time) ([]appointment.ReminderCandidate, error)
}

// Selector picks the appointments whose reminder is due today. The store
// query pulls the whole lookahead window; the lead-days filter narrows it
// to the ones due on this exact day.
type Selector struct {
	source        CandidateSource
	lookaheadDays int
	loc           *time.Location
}

func NewSelector(source CandidateSource, lookaheadDays int, loc *time.Location) *Selector {
	return &Selector{source: source, lookaheadDays: lookaheadDays, loc: loc}
}

// DueToday returns the candidates whose date minus lead days lands on the
// civil date of now.
func (s *Selector) DueToday(ctx context.Context, now time.Time) ([]appointment.ReminderCandidate, error) {
	today := CivilDate(now.In(s.loc))
	candidates, err := s.source.ReminderCandidates(ctx, today, today.AddDate(0, 0, s.lookaheadDays))
	if err != nil {
		return nil, fmt.Errorf("query reminder candidates: %w", err)
	}
	return FilterDueToday(candidates, today), nil
}

// FilterDueToday keeps the candidates where date − lead_days == today.
func FilterDueToday(candidates []appointment.ReminderCandidate, today time.Time) []appointment.ReminderCandidate {
	var due []appointment.ReminderCandidate
	for _, c := range candidates {
		if CivilDate(c.Date).AddDate(0, 0, -c.LeadDays).Equal(today) {
			due = append(due, c)
		}
	}
	return due
}

// CivilDate truncates to midnight UTC of t's calendar date.
func CivilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
