package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/legacy"
	"github.com/sisalud/appointment-notifier/internal/notify"
	"github.com/sisalud/appointment-notifier/internal/observability/metrics"
)

// Outcome tags how one worker invocation ended. The queue re-enqueues on
// RetryRequested; everything else is terminal for the job.
type Outcome int

const (
	OutcomeDispatched Outcome = iota
	OutcomeSkipped
	OutcomeRetryRequested
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetryRequested:
		return "retry_requested"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Job is one scheduled reminder. It carries the legacy detail row captured
// at selection time so the worker never requeries the volatile fields.
type Job struct {
	AppointmentID int64
	Detail        *legacy.Detail
	Attempt       int
}

// TemplateResolver re-checks reminder eligibility at send time.
type TemplateResolver interface {
	Resolve(ctx context.Context, classificationID int64, kind appointment.NotificationKind) (*appointment.Template, error)
}

// MessageDispatcher sends one rendered message through the given store.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, store notify.MessageStore, appointmentID, templateID int64, phone, body string) (int, error)
}

// FlowOpener starts the confirmation conversation after a delivered
// reminder. Runs outside the row lock.
type FlowOpener interface {
	OpenConfirmation(ctx context.Context, phone string, appointmentID int64) error
}

// WorkerStore is the repository slice the worker needs.
type WorkerStore interface {
	WithAppointmentLock(ctx context.Context, appointmentID int64, fn func(ctx context.Context, tx appointment.LockedTx, appt *appointment.Appointment) error) error
	HasOpenFlow(ctx context.Context, recipient string) (bool, error)
}

// Worker executes one reminder dispatch under the appointment row lock:
// re-validate, re-check eligibility, check the recipient's conversation
// state, send, raise the flag only on a non-negative ack.
type Worker struct {
	repo       WorkerStore
	resolver   TemplateResolver
	dispatcher MessageDispatcher
	flows      FlowOpener
	metrics    *metrics.Metrics
}

func NewWorker(repo WorkerStore, resolver TemplateResolver, dispatcher MessageDispatcher, flows FlowOpener, m *metrics.Metrics) *Worker {
	return &Worker{
		repo:       repo,
		resolver:   resolver,
		dispatcher: dispatcher,
		flows:      flows,
		metrics:    m,
	}
}

// Process runs one invocation. The lock, validation, dispatch and flag
// update commit as one transaction; the flow start happens after commit so
// the lock never spans that call.
func (w *Worker) Process(ctx context.Context, job Job) (Outcome, error) {
	outcome := OutcomeSkipped
	ack := -1
	var phone string

	err := w.repo.WithAppointmentLock(ctx, job.AppointmentID, func(ctx context.Context, tx appointment.LockedTx, appt *appointment.Appointment) error {
		if appt.Status != appointment.StatusConfirmed || appt.ReminderSent {
			log.Printf("reminder: superseded appointment=%d status=%s sent=%t", appt.ID, appt.Status, appt.ReminderSent)
			return nil
		}

		tmpl, err := w.resolver.Resolve(ctx, appt.ClassificationID, appointment.KindReminder)
		if err != nil {
			if errors.Is(err, notify.ErrNotEligible) {
				log.Printf("reminder: no longer eligible appointment=%d classification=%d", appt.ID, appt.ClassificationID)
				return nil
			}
			return err
		}

		phone = notify.NormalizePhone(job.Detail.PhoneArea, job.Detail.PhoneNumber)
		if phone != "" {
			open, err := w.repo.HasOpenFlow(ctx, phone)
			if err != nil {
				return fmt.Errorf("check open flow: %w", err)
			}
			if open {
				outcome = OutcomeRetryRequested
				return nil
			}
		}

		body := notify.Render(tmpl.Body, job.Detail.TemplateData())
		ack, err = w.dispatcher.Dispatch(ctx, tx, appt.ID, tmpl.ID, phone, body)
		if err != nil {
			return err
		}
		outcome = OutcomeDispatched

		if ack >= 0 {
			if err := tx.MarkSent(ctx, appt.ID, appointment.KindReminder); err != nil {
				return fmt.Errorf("mark reminder sent: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		w.metrics.ReminderOutcome(OutcomeAborted.String())
		return OutcomeAborted, fmt.Errorf("reminder appointment=%d: %w", job.AppointmentID, err)
	}

	w.metrics.ReminderOutcome(outcome.String())
	if outcome == OutcomeDispatched {
		w.metrics.DispatchObserved(appointment.KindReminder.String(), ack)
	}

	if outcome == OutcomeDispatched && ack >= 0 && phone != "" {
		if err := w.flows.OpenConfirmation(ctx, phone, job.AppointmentID); err != nil {
			log.Printf("reminder: open confirmation flow appointment=%d error=%v", job.AppointmentID, err)
		}
	}
	return outcome, nil
}
