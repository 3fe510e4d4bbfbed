package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/legacy"
	"github.com/sisalud/appointment-notifier/internal/notify"
	"github.com/sisalud/appointment-notifier/internal/observability/metrics"
)

// LegacySource is the slice of the legacy client the poller needs.
type LegacySource interface {
	ChangesSince(ctx context.Context, since time.Time) ([]legacy.ChangeRow, error)
	AppointmentDetail(ctx context.Context, externalID int64) (*legacy.Detail, error)
	PatientContact(ctx context.Context, patientID int64) (*legacy.PatientContact, error)
	FacilityContact(ctx context.Context, facilityID int64) (*legacy.FacilityContact, error)
}

// TemplateResolver decides eligibility and yields the template to send.
type TemplateResolver interface {
	Resolve(ctx context.Context, classificationID int64, kind appointment.NotificationKind) (*appointment.Template, error)
}

// MessageDispatcher sends one rendered notification and records the attempt.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, store notify.MessageStore, appointmentID, templateID int64, phone, body string) (int, error)
}

// Poller drives one incremental sync cycle: read the watermark, pull the
// legacy change feed past it, run each row through the pipeline, advance
// the watermark to the newest successfully observed change.
type Poller struct {
	repo       appointment.Repository
	source     LegacySource
	resolver   TemplateResolver
	dispatcher MessageDispatcher
	metrics    *metrics.Metrics
}

func NewPoller(repo appointment.Repository, source LegacySource, resolver TemplateResolver, dispatcher MessageDispatcher, m *metrics.Metrics) *Poller {
	return &Poller{
		repo:       repo,
		source:     source,
		resolver:   resolver,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

// syncRow threads one change through the pipeline stages. Every field a
// later stage needs is carried here explicitly.
type syncRow struct {
	change legacy.ChangeRow

	status appointment.Status
	kind   appointment.NotificationKind
	notify bool

	appt    *appointment.Appointment
	created bool
	detail  *legacy.Detail

	tmpl  *appointment.Template
	phone string
	data  map[string]string
}

// RunCycle performs one poll. A failure reading the legacy feed aborts
// without touching the watermark; a failure on an individual row is logged
// and skipped.
func (p *Poller) RunCycle(ctx context.Context) error {
	watermark, err := p.repo.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}

	changes, err := p.source.ChangesSince(ctx, watermark)
	if err != nil {
		return fmt.Errorf("poll legacy changes: %w", err)
	}
	if len(changes) == 0 {
		return nil
	}
	log.Printf("syncer: cycle start watermark=%s changes=%d", watermark.Format(time.RFC3339), len(changes))

	var maxObserved time.Time
	processed := 0
	for _, change := range changes {
		if err := p.processRow(ctx, change); err != nil {
			log.Printf("syncer: skip row external_id=%d error=%v", change.ExternalID, err)
			continue
		}
		processed++
		if change.ChangedAt.After(maxObserved) {
			maxObserved = change.ChangedAt
		}
	}

	if !maxObserved.IsZero() {
		if err := p.repo.AdvanceWatermark(ctx, maxObserved); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
	}
	log.Printf("syncer: cycle done processed=%d skipped=%d watermark=%s",
		processed, len(changes)-processed, maxObserved.Format(time.RFC3339))
	return nil
}

func (p *Poller) processRow(ctx context.Context, change legacy.ChangeRow) error {
	row := &syncRow{change: change}

	if !p.mapStage(row) {
		p.metrics.SyncRowObserved("unmapped")
		return nil
	}
	if err := p.materializeStage(ctx, row); err != nil {
		return err
	}
	if row.appt == nil {
		// Unknown local appointment for a non-create state.
		p.metrics.SyncRowObserved("unknown")
		return nil
	}
	p.metrics.SyncRowObserved(row.status.String())

	if !row.notify || row.appt.Sent(row.kind) {
		return nil
	}
	if err := p.enrichStage(ctx, row); err != nil {
		return err
	}
	if row.data == nil {
		return nil
	}
	return p.dispatchStage(ctx, row)
}

// mapStage derives the lifecycle state and notification kind; false means
// the external code is unmapped and the row is dropped.
func (p *Poller) mapStage(row *syncRow) bool {
	status, ok := MapStatus(row.change.StatusCode)
	if !ok {
		log.Printf("syncer: unmapped status external_id=%d code=%d", row.change.ExternalID, row.change.StatusCode)
		return false
	}
	row.status = status
	row.kind, row.notify = appointment.KindForStatus(status)
	return true
}

// materializeStage creates or status-updates the local appointment. A
// Confirmed event for an unseen external id creates from the full legacy
// detail; any other state with no local row is ignored with a log line.
func (p *Poller) materializeStage(ctx context.Context, row *syncRow) error {
	appt, err := p.repo.GetByExternalID(ctx, row.change.ExternalID)
	switch {
	case err == nil:
		updated, err := p.repo.UpdateStatusByExternalID(ctx, row.change.ExternalID, row.status)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if !updated {
			return nil
		}
		appt.Status = row.status
		row.appt = appt
		return nil

	case errors.Is(err, appointment.ErrAppointmentNotFound):
		if row.status != appointment.StatusConfirmed {
			log.Printf("syncer: ignore unknown appointment external_id=%d status=%d", row.change.ExternalID, row.status)
			return nil
		}
		return p.createFromDetail(ctx, row)

	default:
		return fmt.Errorf("load appointment: %w", err)
	}
}

func (p *Poller) createFromDetail(ctx context.Context, row *syncRow) error {
	detail, err := p.source.AppointmentDetail(ctx, row.change.ExternalID)
	if err != nil {
		return fmt.Errorf("fetch legacy detail: %w", err)
	}
	if detail == nil {
		log.Printf("syncer: no legacy detail external_id=%d", row.change.ExternalID)
		return nil
	}

	date, err := legacy.ParseDate(detail.DateRaw)
	if err != nil {
		return fmt.Errorf("parse appointment date: %w", err)
	}

	created, err := p.repo.Create(ctx, &appointment.Appointment{
		ExternalID:       row.change.ExternalID,
		PatientID:        row.change.PatientID,
		Status:           appointment.StatusConfirmed,
		Date:             date,
		TimeOfDay:        legacy.TimeLiteral(detail.TimeRaw),
		ClassificationID: detail.ClassificationID,
	})
	if err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}
	row.appt = created
	row.created = true
	row.detail = detail

	released, err := p.repo.ReleaseWaitlist(ctx, row.change.PatientID, detail.ClassificationID)
	if err != nil {
		return fmt.Errorf("release waitlist: %w", err)
	}
	if released {
		log.Printf("syncer: waitlist released patient=%d classification=%d", row.change.PatientID, detail.ClassificationID)
	}
	return nil
}

// enrichStage resolves eligibility and gathers the recipient phone plus the
// placeholder data the template renders. row.data stays nil when the row is
// not eligible, which ends the pipeline quietly.
func (p *Poller) enrichStage(ctx context.Context, row *syncRow) error {
	tmpl, err := p.resolver.Resolve(ctx, row.appt.ClassificationID, row.kind)
	if err != nil {
		if errors.Is(err, notify.ErrNotEligible) {
			return nil
		}
		return err
	}
	row.tmpl = tmpl

	if row.detail == nil && row.kind != appointment.KindCancellation {
		detail, err := p.source.AppointmentDetail(ctx, row.change.ExternalID)
		if err != nil {
			return fmt.Errorf("fetch legacy detail: %w", err)
		}
		if detail == nil {
			log.Printf("syncer: no legacy detail external_id=%d", row.change.ExternalID)
			return nil
		}
		row.detail = detail
	}

	if row.detail != nil {
		row.phone = notify.NormalizePhone(row.detail.PhoneArea, row.detail.PhoneNumber)
		row.data = row.detail.TemplateData()
		return nil
	}
	return p.enrichCancellation(ctx, row)
}

// enrichCancellation rebuilds notification data for a cancelled appointment
// from the patient and facility contact queries plus the local row, since
// the legacy detail join no longer returns cancelled appointments.
func (p *Poller) enrichCancellation(ctx context.Context, row *syncRow) error {
	contact, err := p.source.PatientContact(ctx, row.appt.PatientID)
	if err != nil {
		return fmt.Errorf("fetch patient contact: %w", err)
	}
	if contact == nil {
		log.Printf("syncer: no patient contact patient=%d", row.appt.PatientID)
		return nil
	}

	class, err := p.repo.Classification(ctx, row.appt.ClassificationID)
	if err != nil {
		return fmt.Errorf("load classification: %w", err)
	}

	facility, err := p.source.FacilityContact(ctx, class.FacilityID)
	if err != nil {
		return fmt.Errorf("fetch facility contact: %w", err)
	}
	if facility == nil {
		facility = &legacy.FacilityContact{}
	}

	row.phone = notify.NormalizePhone(contact.PhoneArea, contact.PhoneNumber)
	row.data = map[string]string{
		"nompac":       contact.FirstName,
		"apepac":       contact.LastName,
		"fecha":        row.appt.Date.Format("02-01-2006"),
		"horaturno":    legacy.DisplayClock(row.appt.TimeOfDay),
		"especialidad": class.SpecialtyName,
		"servicio":     class.ServiceName,
		"efector":      facility.Name,
		"calle":        facility.Street,
		"altura":       facility.StreetNumber,
		"letra":        facility.StreetLetter,
		"coordx":       facility.CoordX,
		"coordy":       facility.CoordY,
		"tel_efe":      facility.Phone,
		"calle_nom":    facility.StreetName,
	}
	return nil
}

// dispatchStage renders and sends, then raises the kind flag only when the
// gateway acknowledged with a non-negative code.
func (p *Poller) dispatchStage(ctx context.Context, row *syncRow) error {
	body := notify.Render(row.tmpl.Body, row.data)
	ack, err := p.dispatcher.Dispatch(ctx, p.repo, row.appt.ID, row.tmpl.ID, row.phone, body)
	if err != nil {
		return err
	}
	p.metrics.DispatchObserved(row.kind.String(), ack)

	if ack >= 0 {
		if err := p.repo.MarkSent(ctx, row.appt.ID, row.kind); err != nil {
			return fmt.Errorf("mark %s sent: %w", row.kind, err)
		}
	}
	return nil
}
