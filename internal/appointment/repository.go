package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAppointmentNotFound    = errors.New("appointment not found")
	ErrTemplateConfigNotFound = errors.New("template config not found")
	ErrClassificationNotFound = errors.New("classification not found")
	ErrFlowNotFound           = errors.New("conversation flow not found")
)

// LockedTx is the mutation surface available while an appointment row lock
// is held. Everything executed through it commits or rolls back together.
type LockedTx interface {
	AppendMessage(ctx context.Context, m Message) error
	MarkSent(ctx context.Context, appointmentID int64, kind NotificationKind) error
}

// Repository contains all local-store interactions the engine needs.
type Repository interface {
	// Watermark returns the last processed legacy change timestamp,
	// creating the epoch row on first use.
	Watermark(ctx context.Context) (time.Time, error)
	// AdvanceWatermark moves the watermark forward. It never moves it back.
	AdvanceWatermark(ctx context.Context, ts time.Time) error

	GetByExternalID(ctx context.Context, externalID int64) (*Appointment, error)
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateStatusByExternalID returns false when no local row exists for
	// the external id: sync treats that as "ignore unknown appointment".
	UpdateStatusByExternalID(ctx context.Context, externalID int64, st Status) (bool, error)
	MarkSent(ctx context.Context, appointmentID int64, kind NotificationKind) error
	SetPatientResponse(ctx context.Context, appointmentID int64, pr PatientResponse) error

	TemplateConfig(ctx context.Context, classificationID int64) (*TemplateConfig, error)
	Classification(ctx context.Context, id int64) (*Classification, error)

	AppendMessage(ctx context.Context, m Message) error
	// UpdateMessageAck records a delivery-receipt ack reported later by the
	// gateway for an already sent message.
	UpdateMessageAck(ctx context.Context, externalID string, ack int) error

	ReminderCandidates(ctx context.Context, from, to time.Time) ([]ReminderCandidate, error)

	HasOpenFlow(ctx context.Context, recipient string) (bool, error)
	// EnsureOpenFlow creates the flow row or, if it already exists, forces
	// its state back to Open. Only the orchestrator's open path may use it.
	EnsureOpenFlow(ctx context.Context, f ConversationFlow) (*ConversationFlow, error)
	// GetOrCreateFlow creates the flow row if absent and otherwise returns
	// the existing row untouched. A closed flow stays closed.
	GetOrCreateFlow(ctx context.Context, f ConversationFlow) (*ConversationFlow, error)
	// LinkFlowAppointment is idempotent: duplicate links are swallowed.
	LinkFlowAppointment(ctx context.Context, appointmentID int64, flowID string) error
	CloseFlow(ctx context.Context, flowID string) error
	AppointmentIDForFlow(ctx context.Context, flowID string) (int64, error)
	RecordNodeVisit(ctx context.Context, flowID, node string, at time.Time) error
	RecordFlowMessage(ctx context.Context, flowID, body string, at time.Time) error
	HasNodeVisit(ctx context.Context, flowID, node string) (bool, error)

	// ReleaseWaitlist closes any open waitlist entry for the patient and
	// classification, returning whether one was released.
	ReleaseWaitlist(ctx context.Context, patientID, classificationID int64) (bool, error)

	// WithAppointmentLock runs fn while holding a pessimistic row lock on
	// the appointment, inside one transaction. fn receives the freshly
	// locked row.
	WithAppointmentLock(ctx context.Context, appointmentID int64, fn func(ctx context.Context, tx LockedTx, appt *Appointment) error) error
}
