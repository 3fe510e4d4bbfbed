package appointment

import (
	"time"
)

// Status is the internal appointment lifecycle state derived from the
// legacy system's status codes.
type Status int

const (
	StatusConfirmed   Status = 1
	StatusCancelled   Status = 2
	StatusRescheduled Status = 3
	StatusIgnored     Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusCancelled:
		return "cancelled"
	case StatusRescheduled:
		return "rescheduled"
	case StatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// PatientResponse tracks the outcome of the confirmation conversation.
// Negative values carry gateway failure ack codes verbatim so downstream
// UIs can show why no response will ever arrive.
type PatientResponse int

const (
	ResponseUnknown   PatientResponse = 0
	ResponseConfirmed PatientResponse = 1
	ResponseCancelled PatientResponse = 2
	ResponseIncorrect PatientResponse = 3
	ResponseAwaiting  PatientResponse = 4
)

// NotificationKind selects which of the four per-classification templates
// and which sent-flag an operation refers to.
type NotificationKind int

const (
	KindConfirmation NotificationKind = iota + 1
	KindCancellation
	KindReschedule
	KindReminder
)

func (k NotificationKind) String() string {
	switch k {
	case KindConfirmation:
		return "confirmation"
	case KindCancellation:
		return "cancellation"
	case KindReschedule:
		return "reschedule"
	case KindReminder:
		return "reminder"
	default:
		return "unknown"
	}
}

// KindForStatus maps a lifecycle state to the notification sent on entering
// it. Ignored has no notification.
func KindForStatus(s Status) (NotificationKind, bool) {
	switch s {
	case StatusConfirmed:
		return KindConfirmation, true
	case StatusCancelled:
		return KindCancellation, true
	case StatusRescheduled:
		return KindReschedule, true
	default:
		return 0, false
	}
}

type FlowState int

const (
	FlowOpen   FlowState = 0
	FlowClosed FlowState = 1
)

// Appointment is the local materialization of a legacy appointment.
// Date is the civil date (midnight UTC from a DATE column); TimeOfDay keeps
// the "HH:MM" literal exactly as the legacy feed delivered it, since the
// feed's time formats vary and the literal is what templates render.
type Appointment struct {
	ID               int64
	ExternalID       int64
	PatientID        int64
	Status           Status
	PatientResponse  PatientResponse
	Date             time.Time
	TimeOfDay        string
	ClassificationID int64
	ConfirmationSent bool
	CancellationSent bool
	RescheduleSent   bool
	ReminderSent     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Sent reports whether the notification of the given kind was already
// delivered for this appointment. Flags only ever move false→true.
func (a *Appointment) Sent(kind NotificationKind) bool {
	switch kind {
	case KindConfirmation:
		return a.ConfirmationSent
	case KindCancellation:
		return a.CancellationSent
	case KindReschedule:
		return a.RescheduleSent
	case KindReminder:
		return a.ReminderSent
	default:
		return false
	}
}

type Template struct {
	ID   int64
	Body string
}

// KindConfig is one enable-flag plus its optional template body.
type KindConfig struct {
	Enabled  bool
	Template *Template
}

// TemplateConfig is the per-classification notification configuration.
// LeadDays is only meaningful for the reminder kind; nil means 0.
type TemplateConfig struct {
	ClassificationID int64
	Confirmation     KindConfig
	Cancellation     KindConfig
	Reschedule       KindConfig
	Reminder         KindConfig
	LeadDays         *int
}

// Kind returns the config slot for a notification kind.
func (c *TemplateConfig) Kind(k NotificationKind) KindConfig {
	switch k {
	case KindConfirmation:
		return c.Confirmation
	case KindCancellation:
		return c.Cancellation
	case KindReschedule:
		return c.Reschedule
	case KindReminder:
		return c.Reminder
	default:
		return KindConfig{}
	}
}

// Classification is the facility/service/specialty triple appointments and
// template configs hang off.
type Classification struct {
	ID            int64
	FacilityID    int64
	ServiceID     int64
	SpecialtyID   int64
	ServiceName   string
	SpecialtyName string
}

// Message is one dispatch attempt, append-only. Ack is the signed
// acknowledgement code; negative values are local or gateway failure
// categories, non-negative values are gateway-assigned states.
type Message struct {
	ID            int64
	ExternalID    *string
	AppointmentID *int64
	Recipient     *string
	TemplateID    int64
	SentAt        time.Time
	Ack           int
	SessionID     *string
}

// ConversationFlow is a dialog session with a recipient, keyed by the
// gateway's flow identifier. Flows this engine opens may be closed
// concurrently by the flow-event listener.
type ConversationFlow struct {
	ID        string
	Recipient string
	Sender    *string
	SessionID *string
	State     FlowState
	StartedAt time.Time
	ClosedAt  *time.Time
}

// ReminderCandidate is the projection the reminder selector works with.
type ReminderCandidate struct {
	AppointmentID    int64
	ExternalID       int64
	ClassificationID int64
	Date             time.Time
	TimeOfDay        string
	LeadDays         int
	TemplateID       int64
}
