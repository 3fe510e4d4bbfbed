package reminder

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sisalud/appointment-notifier/internal/legacy"
)

// DetailSource fetches the legacy detail rows scheduled jobs carry.
type DetailSource interface {
	AppointmentDetails(ctx context.Context, externalIDs []int64) ([]legacy.Detail, error)
}

// Runner is the daily reminder pass: select what is due, capture the legacy
// detail for each candidate, plan send times, arm the queue.
type Runner struct {
	selector  *Selector
	source    DetailSource
	scheduler *Scheduler
	queue     *Queue
}

func NewRunner(selector *Selector, source DetailSource, scheduler *Scheduler, queue *Queue) *Runner {
	return &Runner{selector: selector, source: source, scheduler: scheduler, queue: queue}
}

func (r *Runner) RunDaily(ctx context.Context, now time.Time) error {
	due, err := r.selector.DueToday(ctx, now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		log.Printf("reminder: nothing due today")
		return nil
	}

	ids := make([]int64, len(due))
	for i, c := range due {
		ids[i] = c.ExternalID
	}
	details, err := r.source.AppointmentDetails(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetch legacy details: %w", err)
	}
	byExternalID := make(map[int64]*legacy.Detail, len(details))
	for i := range details {
		byExternalID[details[i].ExternalID] = &details[i]
	}

	scheduled := 0
	for _, plan := range r.scheduler.Plan(now, due) {
		detail := byExternalID[plan.Candidate.ExternalID]
		if detail == nil {
			log.Printf("reminder: no legacy detail external_id=%d, skipping", plan.Candidate.ExternalID)
			continue
		}
		r.queue.Schedule(ctx, Job{AppointmentID: plan.Candidate.AppointmentID, Detail: detail}, plan.At)
		scheduled++
	}
	log.Printf("reminder: daily run due=%d scheduled=%d", len(due), scheduled)
	return nil
}
