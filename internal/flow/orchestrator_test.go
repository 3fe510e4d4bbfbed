package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/gateway"
)

type stubStore struct {
	ensured   []appointment.ConversationFlow
	linked    map[int64]string
	responses map[int64]appointment.PatientResponse
}

func newStubStore() *stubStore {
	return &stubStore{
		linked:    make(map[int64]string),
		responses: make(map[int64]appointment.PatientResponse),
	}
}

func (s *stubStore) EnsureOpenFlow(ctx context.Context, f appointment.ConversationFlow) (*appointment.ConversationFlow, error) {
	s.ensured = append(s.ensured, f)
	return &f, nil
}

func (s *stubStore) LinkFlowAppointment(ctx context.Context, appointmentID int64, flowID string) error {
	s.linked[appointmentID] = flowID
	return nil
}

func (s *stubStore) SetPatientResponse(ctx context.Context, appointmentID int64, pr appointment.PatientResponse) error {
	s.responses[appointmentID] = pr
	return nil
}

type stubStarter struct {
	resp     gateway.Response
	phone    string
	flowName string
	endpoint string
}

func (s *stubStarter) StartFlow(ctx context.Context, phone, flowName, endpoint string) gateway.Response {
	s.phone, s.flowName, s.endpoint = phone, flowName, endpoint
	return s.resp
}

func TestOpenConfirmationSuccess(t *testing.T) {
	store := newStubStore()
	starter := &stubStarter{resp: gateway.Response{
		StatusCode: 200,
		Body:       map[string]any{"id": "flow-9", "flow": "confirmacion-turno"},
	}}
	orch := NewOrchestrator(store, starter, "confirmacion-turno", "http://127.0.0.1:8941/flow-events")

	err := orch.OpenConfirmation(context.Background(), "5493415556677", 7)
	require.NoError(t, err)

	assert.Equal(t, "5493415556677", starter.phone)
	assert.Equal(t, "confirmacion-turno", starter.flowName)
	assert.Equal(t, "http://127.0.0.1:8941/flow-events", starter.endpoint)

	require.Len(t, store.ensured, 1)
	assert.Equal(t, "flow-9", store.ensured[0].ID)
	assert.Equal(t, appointment.FlowOpen, store.ensured[0].State)
	assert.Equal(t, "flow-9", store.linked[7])
	assert.Equal(t, appointment.ResponseAwaiting, store.responses[7])
}

func TestOpenConfirmationGatewayFailureStoresAck(t *testing.T) {
	store := newStubStore()
	starter := &stubStarter{resp: gateway.Response{StatusCode: 503}}
	orch := NewOrchestrator(store, starter, "confirmacion-turno", "endpoint")

	err := orch.OpenConfirmation(context.Background(), "549341000", 7)
	require.NoError(t, err)

	assert.Empty(t, store.ensured)
	assert.Empty(t, store.linked)
	assert.Equal(t, appointment.PatientResponse(-5), store.responses[7])
}

func TestOpenConfirmationMissingFlowID(t *testing.T) {
	store := newStubStore()
	starter := &stubStarter{resp: gateway.Response{StatusCode: 200, Body: map[string]any{}}}
	orch := NewOrchestrator(store, starter, "confirmacion-turno", "endpoint")

	err := orch.OpenConfirmation(context.Background(), "549341000", 7)
	require.NoError(t, err)

	// 200 without an id decodes to the default failure ack.
	assert.Empty(t, store.ensured)
	assert.Equal(t, appointment.PatientResponse(-5), store.responses[7])
}
