package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the repository uses. pgxmock satisfies
// it too, which keeps the repository testable without a live database.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is what the shared statement helpers need; both DB and pgx.Tx
// provide it.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, external_id, patient_id, status, patient_response, date, time_of_day,
		classification_id, confirmation_sent, cancellation_sent, reschedule_sent, reminder_sent,
		created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ExternalID,
		&a.PatientID,
		&a.Status,
		&a.PatientResponse,
		&a.Date,
		&a.TimeOfDay,
		&a.ClassificationID,
		&a.ConfirmationSent,
		&a.CancellationSent,
		&a.RescheduleSent,
		&a.ReminderSent,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// Watermark

func (r *PgRepository) Watermark(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(ctx, `
		SELECT last_processed FROM sync_watermark WHERE id = 1
	`).Scan(&ts)
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}

	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = r.db.Exec(ctx, `
		INSERT INTO sync_watermark (id, last_processed)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, epoch)
	if err != nil {
		return time.Time{}, fmt.Errorf("init watermark: %w", err)
	}
	return epoch, nil
}

func (r *PgRepository) AdvanceWatermark(ctx context.Context, ts time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_watermark
		SET last_processed = GREATEST(last_processed, $1)
		WHERE id = 1
	`, ts)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}

// Appointments

func (r *PgRepository) GetByExternalID(ctx context.Context, externalID int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE external_id = $1
	`, externalID)
	return scanAppointment(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments
			(external_id, patient_id, status, patient_response, date, time_of_day, classification_id,
			 confirmation_sent, cancellation_sent, reschedule_sent, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, false, false, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ExternalID, a.PatientID, a.Status, a.PatientResponse, a.Date, a.TimeOfDay, a.ClassificationID)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateStatusByExternalID(ctx context.Context, externalID int64, st Status) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE external_id = $1
	`, externalID, st)
	if err != nil {
		return false, fmt.Errorf("update appointment status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func sentColumn(kind NotificationKind) (string, error) {
	switch kind {
	case KindConfirmation:
		return "confirmation_sent", nil
	case KindCancellation:
		return "cancellation_sent", nil
	case KindReschedule:
		return "reschedule_sent", nil
	case KindReminder:
		return "reminder_sent", nil
	default:
		return "", fmt.Errorf("unknown notification kind %d", kind)
	}
}

func markSent(ctx context.Context, q querier, appointmentID int64, kind NotificationKind) error {
	col, err := sentColumn(kind)
	if err != nil {
		return err
	}
	// Flags are monotone: this only ever sets, never clears.
	_, err = q.Exec(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET %s = true,
		    updated_at = now()
		WHERE id = $1
	`, col), appointmentID)
	if err != nil {
		return fmt.Errorf("mark %s sent: %w", kind, err)
	}
	return nil
}

func (r *PgRepository) MarkSent(ctx context.Context, appointmentID int64, kind NotificationKind) error {
	return markSent(ctx, r.db, appointmentID, kind)
}

func (r *PgRepository) SetPatientResponse(ctx context.Context, appointmentID int64, pr PatientResponse) error {
	_, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET patient_response = $2,
		    updated_at = now()
		WHERE id = $1
	`, appointmentID, pr)
	if err != nil {
		return fmt.Errorf("set patient response: %w", err)
	}
	return nil
}

// Configuration

func (r *PgRepository) TemplateConfig(ctx context.Context, classificationID int64) (*TemplateConfig, error) {
	row := r.db.QueryRow(ctx, `
		SELECT c.classification_id,
		       c.confirmation_enabled, tc.id, tc.body,
		       c.cancellation_enabled, tx.id, tx.body,
		       c.reschedule_enabled, tr.id, tr.body,
		       c.reminder_enabled, tm.id, tm.body,
		       c.lead_days
		FROM template_configs c
		LEFT JOIN templates tc ON tc.id = c.confirmation_template_id
		LEFT JOIN templates tx ON tx.id = c.cancellation_template_id
		LEFT JOIN templates tr ON tr.id = c.reschedule_template_id
		LEFT JOIN templates tm ON tm.id = c.reminder_template_id
		WHERE c.classification_id = $1
	`, classificationID)

	var (
		cfg      TemplateConfig
		ids      [4]*int64
		bodies   [4]*string
		enabled  [4]bool
		leadDays *int
	)
	err := row.Scan(
		&cfg.ClassificationID,
		&enabled[0], &ids[0], &bodies[0],
		&enabled[1], &ids[1], &bodies[1],
		&enabled[2], &ids[2], &bodies[2],
		&enabled[3], &ids[3], &bodies[3],
		&leadDays,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateConfigNotFound
		}
		return nil, fmt.Errorf("load template config: %w", err)
	}

	kinds := [4]*KindConfig{&cfg.Confirmation, &cfg.Cancellation, &cfg.Reschedule, &cfg.Reminder}
	for i, kc := range kinds {
		kc.Enabled = enabled[i]
		if ids[i] != nil && bodies[i] != nil {
			kc.Template = &Template{ID: *ids[i], Body: *bodies[i]}
		}
	}
	cfg.LeadDays = leadDays

	return &cfg, nil
}

func (r *PgRepository) Classification(ctx context.Context, id int64) (*Classification, error) {
	var c Classification
	err := r.db.QueryRow(ctx, `
		SELECT id, facility_id, service_id, specialty_id, service_name, specialty_name
		FROM classifications
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FacilityID, &c.ServiceID, &c.SpecialtyID, &c.ServiceName, &c.SpecialtyName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClassificationNotFound
		}
		return nil, fmt.Errorf("load classification: %w", err)
	}
	return &c, nil
}

// Messages

func appendMessage(ctx context.Context, q querier, m Message) error {
	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO messages (external_id, appointment_id, recipient, template_id, sent_at, ack, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ExternalID, m.AppointmentID, m.Recipient, m.TemplateID, sentAt, m.Ack, m.SessionID)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *PgRepository) AppendMessage(ctx context.Context, m Message) error {
	return appendMessage(ctx, r.db, m)
}

func (r *PgRepository) UpdateMessageAck(ctx context.Context, externalID string, ack int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET ack = $2,
		    ack_at = now()
		WHERE external_id = $1
	`, externalID, ack)
	if err != nil {
		return fmt.Errorf("update message ack: %w", err)
	}
	return nil
}

// Reminders

func (r *PgRepository) ReminderCandidates(ctx context.Context, from, to time.Time) ([]ReminderCandidate, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.external_id, a.classification_id, a.date, a.time_of_day,
		       COALESCE(c.lead_days, 0), c.reminder_template_id
		FROM appointments a
		JOIN template_configs c ON c.classification_id = a.classification_id
		WHERE a.status = $1
		  AND a.reminder_sent = false
		  AND a.date BETWEEN $2 AND $3
		  AND c.reminder_enabled = true
		  AND c.reminder_template_id IS NOT NULL
		ORDER BY a.date, a.time_of_day
	`, StatusConfirmed, from, to)
	if err != nil {
		return nil, fmt.Errorf("find reminder candidates: %w", err)
	}
	defer rows.Close()

	var result []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		if err := rows.Scan(&c.AppointmentID, &c.ExternalID, &c.ClassificationID,
			&c.Date, &c.TimeOfDay, &c.LeadDays, &c.TemplateID); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Conversation flows

func (r *PgRepository) HasOpenFlow(ctx context.Context, recipient string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM conversation_flows
			WHERE recipient = $1 AND state = $2
		)
	`, recipient, FlowOpen).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open flow: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) EnsureOpenFlow(ctx context.Context, f ConversationFlow) (*ConversationFlow, error) {
	startedAt := f.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	out, err := scanFlow(r.db.QueryRow(ctx, `
		INSERT INTO conversation_flows (id, recipient, sender, session_id, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET state = $5
		RETURNING `+flowColumns+`
	`, f.ID, f.Recipient, f.Sender, f.SessionID, FlowOpen, startedAt))
	if err != nil {
		return nil, fmt.Errorf("ensure open flow: %w", err)
	}
	return out, nil
}

const flowColumns = `id, recipient, sender, session_id, state, started_at, closed_at`

func scanFlow(row pgx.Row) (*ConversationFlow, error) {
	var out ConversationFlow
	err := row.Scan(&out.ID, &out.Recipient, &out.Sender, &out.SessionID,
		&out.State, &out.StartedAt, &out.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrCreateFlow inserts the flow if it is new; an existing row keeps its
// state, so late or replayed gateway events never reopen a closed flow.
func (r *PgRepository) GetOrCreateFlow(ctx context.Context, f ConversationFlow) (*ConversationFlow, error) {
	startedAt := f.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	out, err := scanFlow(r.db.QueryRow(ctx, `
		INSERT INTO conversation_flows (id, recipient, sender, session_id, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
		RETURNING `+flowColumns+`
	`, f.ID, f.Recipient, f.Sender, f.SessionID, FlowOpen, startedAt))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create flow: %w", err)
	}

	out, err = scanFlow(r.db.QueryRow(ctx, `
		SELECT `+flowColumns+`
		FROM conversation_flows
		WHERE id = $1
	`, f.ID))
	if err != nil {
		return nil, fmt.Errorf("load flow: %w", err)
	}
	return out, nil
}

func (r *PgRepository) LinkFlowAppointment(ctx context.Context, appointmentID int64, flowID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO flow_appointments (appointment_id, flow_id)
		VALUES ($1, $2)
		ON CONFLICT (appointment_id, flow_id) DO NOTHING
	`, appointmentID, flowID)
	if err != nil {
		return fmt.Errorf("link flow to appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) CloseFlow(ctx context.Context, flowID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_flows
		SET state = $2,
		    closed_at = now()
		WHERE id = $1 AND state = $3
	`, flowID, FlowClosed, FlowOpen)
	if err != nil {
		return fmt.Errorf("close flow: %w", err)
	}
	return nil
}

func (r *PgRepository) AppointmentIDForFlow(ctx context.Context, flowID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		SELECT appointment_id
		FROM flow_appointments
		WHERE flow_id = $1
		ORDER BY appointment_id
		LIMIT 1
	`, flowID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrFlowNotFound
		}
		return 0, fmt.Errorf("find appointment for flow: %w", err)
	}
	return id, nil
}

func (r *PgRepository) RecordNodeVisit(ctx context.Context, flowID, node string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO flow_node_visits (flow_id, node, visited_at)
		VALUES ($1, $2, $3)
	`, flowID, node, at)
	if err != nil {
		return fmt.Errorf("record node visit: %w", err)
	}
	return nil
}

func (r *PgRepository) RecordFlowMessage(ctx context.Context, flowID, body string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO flow_messages (flow_id, body, received_at)
		VALUES ($1, $2, $3)
	`, flowID, body, at)
	if err != nil {
		return fmt.Errorf("record flow message: %w", err)
	}
	return nil
}

func (r *PgRepository) HasNodeVisit(ctx context.Context, flowID, node string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM flow_node_visits
			WHERE flow_id = $1 AND node = $2
		)
	`, flowID, node).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check node visit: %w", err)
	}
	return exists, nil
}

// Waitlist

func (r *PgRepository) ReleaseWaitlist(ctx context.Context, patientID, classificationID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE waitlist_entries
		SET state = 1,
		    closed_at = now()
		WHERE patient_id = $1
		  AND classification_id = $2
		  AND state = 0
	`, patientID, classificationID)
	if err != nil {
		return false, fmt.Errorf("release waitlist entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Row locking

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) AppendMessage(ctx context.Context, m Message) error {
	return appendMessage(ctx, t.tx, m)
}

func (t *txRepo) MarkSent(ctx context.Context, appointmentID int64, kind NotificationKind) error {
	return markSent(ctx, t.tx, appointmentID, kind)
}

func (r *PgRepository) WithAppointmentLock(ctx context.Context, appointmentID int64, fn func(ctx context.Context, tx LockedTx, appt *Appointment) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin appointment lock tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID)
	appt, err := scanAppointment(row)
	if err != nil {
		return err
	}

	if err := fn(ctx, &txRepo{tx: tx}, appt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit appointment lock tx: %w", err)
	}
	return nil
}
