package flow

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/gateway"
)

// Store is the repository slice the orchestrator mutates.
type Store interface {
	EnsureOpenFlow(ctx context.Context, f appointment.ConversationFlow) (*appointment.ConversationFlow, error)
	LinkFlowAppointment(ctx context.Context, appointmentID int64, flowID string) error
	SetPatientResponse(ctx context.Context, appointmentID int64, pr appointment.PatientResponse) error
}

// Orchestrator opens the confirmation conversation for a delivered
// reminder and records where the patient's answer will land. Flows it opens
// are closed later by the flow-event listener; concurrent closes are fine.
type Orchestrator struct {
	store    Store
	starter  gateway.FlowStarter
	flowName string
	endpoint string
}

func NewOrchestrator(store Store, starter gateway.FlowStarter, flowName, endpoint string) *Orchestrator {
	return &Orchestrator{store: store, starter: starter, flowName: flowName, endpoint: endpoint}
}

// OpenConfirmation starts the gateway flow with the recipient. On success
// the flow row is created or reopened, linked to the appointment, and the
// patient response moves to awaiting. On failure the decoded ack is stored
// as the patient response when negative.
func (o *Orchestrator) OpenConfirmation(ctx context.Context, phone string, appointmentID int64) error {
	resp := o.starter.StartFlow(ctx, phone, o.flowName, o.endpoint)

	if resp.StatusCode == http.StatusOK {
		if id, ok := resp.FlowID(); ok {
			return o.recordOpened(ctx, id, phone, appointmentID)
		}
		log.Printf("flow: gateway 200 without flow id appointment=%d", appointmentID)
	}

	ack := gateway.DecodeAck(resp)
	log.Printf("flow: start failed appointment=%d status=%d ack=%d", appointmentID, resp.StatusCode, ack)
	if ack < 0 {
		if err := o.store.SetPatientResponse(ctx, appointmentID, appointment.PatientResponse(ack)); err != nil {
			return fmt.Errorf("store flow failure ack: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) recordOpened(ctx context.Context, flowID, phone string, appointmentID int64) error {
	if _, err := o.store.EnsureOpenFlow(ctx, appointment.ConversationFlow{
		ID:        flowID,
		Recipient: phone,
		State:     appointment.FlowOpen,
		StartedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("ensure open flow: %w", err)
	}
	if err := o.store.LinkFlowAppointment(ctx, appointmentID, flowID); err != nil {
		return fmt.Errorf("link flow appointment: %w", err)
	}
	if err := o.store.SetPatientResponse(ctx, appointmentID, appointment.ResponseAwaiting); err != nil {
		return fmt.Errorf("set awaiting response: %w", err)
	}
	log.Printf("flow: opened flow=%s appointment=%d", flowID, appointmentID)
	return nil
}
