package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/legacy"
	"github.com/sisalud/appointment-notifier/internal/notify"
)

// fakeRepo is an in-memory appointment.Repository covering what the poller
// touches.
type fakeRepo struct {
	watermark    time.Time
	appointments map[int64]*appointment.Appointment
	nextID       int64
	messages     []appointment.Message
	released     []int64
	classes      map[int64]*appointment.Classification
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		watermark:    time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		appointments: make(map[int64]*appointment.Appointment),
		classes:      make(map[int64]*appointment.Classification),
	}
}

func (r *fakeRepo) Watermark(ctx context.Context) (time.Time, error) { return r.watermark, nil }

func (r *fakeRepo) AdvanceWatermark(ctx context.Context, ts time.Time) error {
	if ts.After(r.watermark) {
		r.watermark = ts
	}
	return nil
}

func (r *fakeRepo) GetByExternalID(ctx context.Context, externalID int64) (*appointment.Appointment, error) {
	a, ok := r.appointments[externalID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) Create(ctx context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	r.nextID++
	cp := *a
	cp.ID = r.nextID
	r.appointments[a.ExternalID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeRepo) UpdateStatusByExternalID(ctx context.Context, externalID int64, st appointment.Status) (bool, error) {
	a, ok := r.appointments[externalID]
	if !ok {
		return false, nil
	}
	a.Status = st
	return true, nil
}

func (r *fakeRepo) MarkSent(ctx context.Context, appointmentID int64, kind appointment.NotificationKind) error {
	for _, a := range r.appointments {
		if a.ID != appointmentID {
			continue
		}
		switch kind {
		case appointment.KindConfirmation:
			a.ConfirmationSent = true
		case appointment.KindCancellation:
			a.CancellationSent = true
		case appointment.KindReschedule:
			a.RescheduleSent = true
		case appointment.KindReminder:
			a.ReminderSent = true
		}
	}
	return nil
}

func (r *fakeRepo) SetPatientResponse(ctx context.Context, appointmentID int64, pr appointment.PatientResponse) error {
	return nil
}

func (r *fakeRepo) TemplateConfig(ctx context.Context, classificationID int64) (*appointment.TemplateConfig, error) {
	return nil, appointment.ErrTemplateConfigNotFound
}

func (r *fakeRepo) Classification(ctx context.Context, id int64) (*appointment.Classification, error) {
	c, ok := r.classes[id]
	if !ok {
		return nil, appointment.ErrClassificationNotFound
	}
	return c, nil
}

func (r *fakeRepo) AppendMessage(ctx context.Context, m appointment.Message) error {
	r.messages = append(r.messages, m)
	return nil
}

func (r *fakeRepo) UpdateMessageAck(ctx context.Context, externalID string, ack int) error { return nil }

func (r *fakeRepo) ReminderCandidates(ctx context.Context, from, to time.Time) ([]appointment.ReminderCandidate, error) {
	return nil, nil
}

func (r *fakeRepo) HasOpenFlow(ctx context.Context, recipient string) (bool, error) { return false, nil }

func (r *fakeRepo) EnsureOpenFlow(ctx context.Context, f appointment.ConversationFlow) (*appointment.ConversationFlow, error) {
	return &f, nil
}

func (r *fakeRepo) GetOrCreateFlow(ctx context.Context, f appointment.ConversationFlow) (*appointment.ConversationFlow, error) {
	return &f, nil
}

func (r *fakeRepo) LinkFlowAppointment(ctx context.Context, appointmentID int64, flowID string) error {
	return nil
}

func (r *fakeRepo) CloseFlow(ctx context.Context, flowID string) error { return nil }

func (r *fakeRepo) AppointmentIDForFlow(ctx context.Context, flowID string) (int64, error) {
	return 0, appointment.ErrFlowNotFound
}

func (r *fakeRepo) RecordNodeVisit(ctx context.Context, flowID, node string, at time.Time) error {
	return nil
}

func (r *fakeRepo) RecordFlowMessage(ctx context.Context, flowID, body string, at time.Time) error {
	return nil
}

func (r *fakeRepo) HasNodeVisit(ctx context.Context, flowID, node string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) ReleaseWaitlist(ctx context.Context, patientID, classificationID int64) (bool, error) {
	r.released = append(r.released, patientID)
	return false, nil
}

func (r *fakeRepo) WithAppointmentLock(ctx context.Context, appointmentID int64, fn func(ctx context.Context, tx appointment.LockedTx, appt *appointment.Appointment) error) error {
	return errors.New("not used by the poller")
}

type fakeLegacy struct {
	changes   []legacy.ChangeRow
	changeErr error
	details   map[int64]*legacy.Detail
	patients  map[int64]*legacy.PatientContact
}

func (l *fakeLegacy) ChangesSince(ctx context.Context, since time.Time) ([]legacy.ChangeRow, error) {
	if l.changeErr != nil {
		return nil, l.changeErr
	}
	var out []legacy.ChangeRow
	for _, c := range l.changes {
		if c.ChangedAt.After(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (l *fakeLegacy) AppointmentDetail(ctx context.Context, externalID int64) (*legacy.Detail, error) {
	return l.details[externalID], nil
}

func (l *fakeLegacy) PatientContact(ctx context.Context, patientID int64) (*legacy.PatientContact, error) {
	return l.patients[patientID], nil
}

func (l *fakeLegacy) FacilityContact(ctx context.Context, facilityID int64) (*legacy.FacilityContact, error) {
	return &legacy.FacilityContact{Name: "CS Norte"}, nil
}

type stubResolver struct {
	eligible bool
	body     string
}

func (s *stubResolver) Resolve(ctx context.Context, classificationID int64, kind appointment.NotificationKind) (*appointment.Template, error) {
	if !s.eligible {
		return nil, notify.ErrNotEligible
	}
	body := s.body
	if body == "" {
		body = "Hola {nompac}"
	}
	return &appointment.Template{ID: 4, Body: body}, nil
}

type recordingDispatcher struct {
	ack   int
	calls []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, store notify.MessageStore, appointmentID, templateID int64, phone, body string) (int, error) {
	d.calls = append(d.calls, body)
	return d.ack, nil
}

func confirmChange(externalID int64, at time.Time) legacy.ChangeRow {
	return legacy.ChangeRow{
		ExternalID: externalID,
		PatientID:  7,
		StatusCode: 3,
		ChangedAt:  at,
	}
}

func detailFor(externalID int64) *legacy.Detail {
	return &legacy.Detail{
		ExternalID:       externalID,
		ClassificationID: 9,
		PatientFirstName: "Ana",
		DateRaw:          "2026-09-03",
		TimeRaw:          "08:30:00",
		PhoneArea:        "341",
		PhoneNumber:      "5556677",
	}
}

func TestRunCycleCreatesAndDispatchesOnce(t *testing.T) {
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	source := &fakeLegacy{
		changes: []legacy.ChangeRow{confirmChange(101, ts)},
		details: map[int64]*legacy.Detail{101: detailFor(101)},
	}
	dispatcher := &recordingDispatcher{ack: 2}
	poller := NewPoller(repo, source, &stubResolver{eligible: true}, dispatcher, nil)

	require.NoError(t, poller.RunCycle(context.Background()))

	appt := repo.appointments[101]
	require.NotNil(t, appt)
	assert.Equal(t, appointment.StatusConfirmed, appt.Status)
	assert.True(t, appt.ConfirmationSent)
	assert.Len(t, dispatcher.calls, 1)
	assert.Equal(t, "Hola Ana", dispatcher.calls[0])
	assert.True(t, repo.watermark.Equal(ts))

	// Replaying the same change must not create a duplicate or resend.
	require.NoError(t, poller.RunCycle(context.Background()))
	// The change is filtered by the advanced watermark; rewind to force it.
	repo.watermark = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	require.NoError(t, poller.RunCycle(context.Background()))

	assert.Len(t, repo.appointments, 1)
	assert.Len(t, dispatcher.calls, 1)
}

func TestRunCycleWatermarkIsMaxObserved(t *testing.T) {
	early := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 31, 11, 30, 0, 0, time.UTC)
	repo := newFakeRepo()
	source := &fakeLegacy{
		changes: []legacy.ChangeRow{confirmChange(101, late), confirmChange(102, early)},
		details: map[int64]*legacy.Detail{101: detailFor(101), 102: detailFor(102)},
	}
	poller := NewPoller(repo, source, &stubResolver{}, &recordingDispatcher{ack: 2}, nil)

	require.NoError(t, poller.RunCycle(context.Background()))
	assert.True(t, repo.watermark.Equal(late))
}

func TestRunCycleHardFailureLeavesWatermark(t *testing.T) {
	repo := newFakeRepo()
	before := repo.watermark
	source := &fakeLegacy{changeErr: errors.New("legacy store unreachable")}
	poller := NewPoller(repo, source, &stubResolver{}, &recordingDispatcher{}, nil)

	err := poller.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, repo.watermark.Equal(before))
}

func TestRunCycleSkipsUnmappedAndUnknown(t *testing.T) {
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	source := &fakeLegacy{changes: []legacy.ChangeRow{
		{ExternalID: 200, PatientID: 7, StatusCode: 99, ChangedAt: ts},
		{ExternalID: 201, PatientID: 7, StatusCode: 1, ChangedAt: ts.Add(time.Minute)},
	}}
	poller := NewPoller(repo, source, &stubResolver{}, &recordingDispatcher{}, nil)

	require.NoError(t, poller.RunCycle(context.Background()))

	// Unmapped code and cancel-for-unknown both observed, nothing created.
	assert.Empty(t, repo.appointments)
	assert.True(t, repo.watermark.Equal(ts.Add(time.Minute)))
}

func TestRunCycleCancellationRendersContactData(t *testing.T) {
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	repo.appointments[101] = &appointment.Appointment{
		ID:               1,
		ExternalID:       101,
		PatientID:        7,
		Status:           appointment.StatusConfirmed,
		Date:             time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC),
		TimeOfDay:        "08:30:00",
		ClassificationID: 9,
	}
	repo.classes[9] = &appointment.Classification{
		ID: 9, FacilityID: 2, ServiceName: "Clinica Medica", SpecialtyName: "Clinica Medica",
	}
	source := &fakeLegacy{
		changes:  []legacy.ChangeRow{{ExternalID: 101, PatientID: 7, StatusCode: 1, ChangedAt: ts}},
		patients: map[int64]*legacy.PatientContact{7: {FirstName: "Ana", LastName: "Perez", PhoneArea: "341", PhoneNumber: "5556677"}},
	}
	dispatcher := &recordingDispatcher{ack: 2}
	resolver := &stubResolver{eligible: true, body: "{nompac}, tu turno del {fecha} a las {horaturno} en {efector} fue cancelado"}
	poller := NewPoller(repo, source, resolver, dispatcher, nil)

	require.NoError(t, poller.RunCycle(context.Background()))

	appt := repo.appointments[101]
	assert.Equal(t, appointment.StatusCancelled, appt.Status)
	assert.True(t, appt.CancellationSent)
	require.Len(t, dispatcher.calls, 1)
	// Patient-facing date is DD-MM-YYYY and the clock drops its seconds.
	assert.Equal(t, "Ana, tu turno del 03-09-2026 a las 08:30 en CS Norte fue cancelado", dispatcher.calls[0])
}

func TestRunCycleDispatchFailureLeavesFlagUnset(t *testing.T) {
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	repo := newFakeRepo()
	source := &fakeLegacy{
		changes: []legacy.ChangeRow{confirmChange(101, ts)},
		details: map[int64]*legacy.Detail{101: detailFor(101)},
	}
	dispatcher := &recordingDispatcher{ack: -5}
	poller := NewPoller(repo, source, &stubResolver{eligible: true}, dispatcher, nil)

	require.NoError(t, poller.RunCycle(context.Background()))

	appt := repo.appointments[101]
	require.NotNil(t, appt)
	assert.False(t, appt.ConfirmationSent)
	assert.Len(t, dispatcher.calls, 1)
}
