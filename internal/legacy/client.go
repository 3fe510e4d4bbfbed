package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Client executes read-only queries against the legacy system of record.
// The legacy dialect uses `?` placeholders; when the configured driver
// wants $N style (postgres), queries are rebound on the way out.
type Client struct {
	db         *sql.DB
	bindDollar bool
}

func NewClient(db *sql.DB, driver string) *Client {
	return &Client{
		db:         db,
		bindDollar: driver == "postgres" || driver == "pgx",
	}
}

// Connect opens and pings the legacy store.
func Connect(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open legacy store: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping legacy store: %w", err)
	}
	return db, nil
}

func (c *Client) rebind(query string) string {
	if !c.bindDollar {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// ChangesSince returns the change feed strictly after the given watermark,
// ascending by change timestamp.
func (c *Client) ChangesSince(ctx context.Context, since time.Time) ([]ChangeRow, error) {
	param := since.Format("2006-01-02 15:04:05")
	rows, err := c.db.QueryContext(ctx, c.rebind(changesQuery), param)
	if err != nil {
		return nil, fmt.Errorf("query legacy changes: %w", err)
	}
	defer rows.Close()

	var result []ChangeRow
	for rows.Next() {
		var extID, patID, code, changed any
		if err := rows.Scan(&extID, &patID, &code, &changed); err != nil {
			return nil, fmt.Errorf("scan legacy change row: %w", err)
		}

		raw := stripFraction(asString(changed))
		ts, err := ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}

		result = append(result, ChangeRow{
			ExternalID: asInt64(extID),
			PatientID:  asInt64(patID),
			StatusCode: int(asInt64(code)),
			ChangedAt:  ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// AppointmentDetail fetches the full detail row for one appointment.
// Returns nil with no error when the legacy store has no such row.
func (c *Client) AppointmentDetail(ctx context.Context, externalID int64) (*Detail, error) {
	details, err := c.AppointmentDetails(ctx, []int64{externalID})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, nil
	}
	return &details[0], nil
}

// AppointmentDetails fetches detail rows for a batch of appointments.
func (c *Client) AppointmentDetails(ctx context.Context, externalIDs []int64) ([]Detail, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}

	rows, err := c.db.QueryContext(ctx, c.rebind(detailQuery(len(externalIDs))), args...)
	if err != nil {
		return nil, fmt.Errorf("query legacy appointment detail: %w", err)
	}
	defer rows.Close()

	var result []Detail
	for rows.Next() {
		cols := make([]any, 25)
		dest := make([]any, 25)
		for i := range cols {
			dest[i] = &cols[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan legacy detail row: %w", err)
		}

		result = append(result, Detail{
			ExternalID:            asInt64(cols[0]),
			FacilityID:            asInt64(cols[1]),
			ServiceID:             asInt64(cols[2]),
			SpecialtyID:           asInt64(cols[3]),
			ClassificationID:      asInt64(cols[4]),
			DocType:               asString(cols[5]),
			DocNumber:             asString(cols[6]),
			PatientLastName:       asString(cols[7]),
			PatientFirstName:      asString(cols[8]),
			DateRaw:               asString(cols[9]),
			TimeRaw:               asString(cols[10]),
			ProfessionalLastName:  asString(cols[11]),
			ProfessionalFirstName: asString(cols[12]),
			ServiceName:           asString(cols[13]),
			SpecialtyName:         asString(cols[14]),
			FacilityName:          asString(cols[15]),
			Street:                asString(cols[16]),
			StreetNumber:          asString(cols[17]),
			StreetLetter:          asString(cols[18]),
			CoordX:                asString(cols[19]),
			CoordY:                asString(cols[20]),
			FacilityPhone:         asString(cols[21]),
			StreetName:            asString(cols[22]),
			PhoneArea:             asString(cols[23]),
			PhoneNumber:           asString(cols[24]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PatientContact fetches contact detail for one patient. Nil when absent.
func (c *Client) PatientContact(ctx context.Context, patientID int64) (*PatientContact, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(patientQuery), patientID)
	if err != nil {
		return nil, fmt.Errorf("query legacy patient contact: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var last, first, area, number any
	if err := rows.Scan(&last, &first, &area, &number); err != nil {
		return nil, fmt.Errorf("scan legacy patient contact: %w", err)
	}
	return &PatientContact{
		LastName:    asString(last),
		FirstName:   asString(first),
		PhoneArea:   asString(area),
		PhoneNumber: asString(number),
	}, nil
}

// FacilityContact fetches address/contact detail for one facility. Nil when
// absent.
func (c *Client) FacilityContact(ctx context.Context, facilityID int64) (*FacilityContact, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(facilityQuery), facilityID)
	if err != nil {
		return nil, fmt.Errorf("query legacy facility contact: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	cols := make([]any, 8)
	dest := make([]any, 8)
	for i := range cols {
		dest[i] = &cols[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan legacy facility contact: %w", err)
	}
	return &FacilityContact{
		Name:         asString(cols[0]),
		Street:       asString(cols[1]),
		StreetNumber: asString(cols[2]),
		StreetLetter: asString(cols[3]),
		CoordX:       asString(cols[4]),
		CoordY:       asString(cols[5]),
		Phone:        asString(cols[6]),
		StreetName:   asString(cols[7]),
	}, nil
}

// asString renders whatever the legacy driver produced as the string the
// templates and parsers expect. The feed mixes strings, byte slices,
// numbers and native timestamps for the same logical columns.
func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case []byte:
		n, _ := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n
	default:
		return 0
	}
}
