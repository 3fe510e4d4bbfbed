package reminder

import (
	"context"
	"log"
	"sync"
	"time"
)

// Processor is the worker surface the queue drives.
type Processor interface {
	Process(ctx context.Context, job Job) (Outcome, error)
}

// Queue defers reminder jobs to their planned send time with in-process
// timers and interprets RetryRequested with a bounded fixed-delay policy.
// Jobs do not survive a restart; the next daily selection re-covers
// anything lost, gated by the reminder flag.
type Queue struct {
	processor   Processor
	retryDelay  time.Duration
	maxAttempts int

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	nextKey int64
	stopped bool
}

func NewQueue(processor Processor, retryDelay time.Duration, maxAttempts int) *Queue {
	return &Queue{
		processor:   processor,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		timers:      make(map[int64]*time.Timer),
	}
}

// Schedule arms a timer firing the job at the given time. Times in the past
// fire immediately.
func (q *Queue) Schedule(ctx context.Context, job Job, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	key := q.nextKey
	q.nextKey++

	// The caller's ctx is scoped to the scheduling run and expires long
	// before the timers fire. Stop() is the queue's cancellation path.
	ctx = context.WithoutCancel(ctx)

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	q.timers[key] = time.AfterFunc(delay, func() {
		q.forget(key)
		q.run(ctx, job)
	})
}

func (q *Queue) forget(key int64) {
	q.mu.Lock()
	delete(q.timers, key)
	q.mu.Unlock()
}

func (q *Queue) run(ctx context.Context, job Job) {
	outcome, err := q.processor.Process(ctx, job)
	if err != nil {
		log.Printf("reminder queue: appointment=%d attempt=%d error=%v", job.AppointmentID, job.Attempt, err)
		return
	}
	if outcome != OutcomeRetryRequested {
		return
	}

	job.Attempt++
	if job.Attempt >= q.maxAttempts {
		log.Printf("reminder queue: WARN abandoning appointment=%d after %d attempts, recipient conversation still open",
			job.AppointmentID, job.Attempt)
		return
	}
	log.Printf("reminder queue: busy, retrying appointment=%d attempt=%d delay=%s", job.AppointmentID, job.Attempt, q.retryDelay)
	q.Schedule(ctx, job, time.Now().Add(q.retryDelay))
}

// Stop cancels all pending timers. In-flight jobs finish on their own.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	for key, t := range q.timers {
		t.Stop()
		delete(q.timers, key)
	}
}

// Pending reports how many jobs are waiting on a timer.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}
