package legacy

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &Client{bindDollar: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?,?)"))

	raw := &Client{bindDollar: false}
	assert.Equal(t, "SELECT a FROM t WHERE x = ?",
		raw.rebind("SELECT a FROM t WHERE x = ?"))
}

func TestChangesSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM turnoshistorico").
		WithArgs("2026-08-30 12:00:00").
		WillReturnRows(sqlmock.NewRows([]string{"idturno", "idpaciente", "idestadoturno", "fecha_hora_mdf"}).
			AddRow(int64(101), int64(7), int64(3), []byte("2026-08-30 12:30:00.500000")).
			AddRow("102", "8", "1", "2026-08-30 13:00:00"))

	client := NewClient(db, "sqlmock")
	rows, err := client.ChangesSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(101), rows[0].ExternalID)
	assert.Equal(t, int64(7), rows[0].PatientID)
	assert.Equal(t, 3, rows[0].StatusCode)
	// The fractional suffix is stripped before parsing.
	assert.Equal(t, time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC), rows[0].ChangedAt)

	assert.Equal(t, int64(102), rows[1].ExternalID)
	assert.Equal(t, 1, rows[1].StatusCode)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentDetails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{
		"idturno", "idefector", "idservicio", "idespecialidad", "idefecservesp",
		"abrev_doc", "nro_doc", "apellido", "nombre_per", "fecha", "hora",
		"prof_apellido", "prof_nombre", "servicio", "especialidad", "efector",
		"nomcalle", "numero", "letracalle", "coordenadax", "coordenaday",
		"telefono", "nom_calle", "carac_telef", "nro_telef",
	}
	mock.ExpectQuery("FROM turnos tur").
		WithArgs(int64(101)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(101), int64(2), int64(3), int64(4), int64(9),
			"DNI", "30111222", "PEREZ", "ANA", "2026-09-03", "08:30:00.000",
			"GOMEZ", "LUIS", "Clinica Medica", "Clinica Medica", "CS Norte",
			"San Martin", "1250", "", "-32.9", "-60.6",
			"4721234", "SAN MARTIN", "341", "5556677"))

	client := NewClient(db, "sqlmock")
	detail, err := client.AppointmentDetail(context.Background(), 101)
	require.NoError(t, err)
	require.NotNil(t, detail)

	assert.Equal(t, int64(101), detail.ExternalID)
	assert.Equal(t, int64(9), detail.ClassificationID)
	assert.Equal(t, "ANA", detail.PatientFirstName)
	assert.Equal(t, "2026-09-03", detail.DateRaw)
	assert.Equal(t, "08:30:00.000", detail.TimeRaw)
	assert.Equal(t, "341", detail.PhoneArea)
	assert.Equal(t, "5556677", detail.PhoneNumber)

	data := detail.TemplateData()
	assert.Equal(t, "ANA", data["nompac"])
	assert.Equal(t, "03-09-2026", data["fecha"])
	assert.Equal(t, "08:30", data["horaturno"])
	assert.Equal(t, "CS Norte", data["efector"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientContactAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM v_personas").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows([]string{"apellido", "nombre_per", "carac_telef", "nro_telef"}))

	client := NewClient(db, "sqlmock")
	contact, err := client.PatientContact(context.Background(), 999)
	require.NoError(t, err)
	assert.Nil(t, contact)

	require.NoError(t, mock.ExpectationsWereMet())
}
