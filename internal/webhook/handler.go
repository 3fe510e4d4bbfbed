package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/observability/metrics"
)

// FlowEvent is the payload the flow gateway posts for every conversation
// event: opens, node transitions, inbound messages, finishes, acks.
type FlowEvent struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Time    string `json:"time"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId"`
	Flow    string `json:"flow"`
	To      string `json:"to"`
	From    string `json:"from"`
}

// Store is the repository slice the event handler mutates.
type Store interface {
	GetOrCreateFlow(ctx context.Context, f appointment.ConversationFlow) (*appointment.ConversationFlow, error)
	CloseFlow(ctx context.Context, flowID string) error
	AppointmentIDForFlow(ctx context.Context, flowID string) (int64, error)
	SetPatientResponse(ctx context.Context, appointmentID int64, pr appointment.PatientResponse) error
	RecordNodeVisit(ctx context.Context, flowID, node string, at time.Time) error
	RecordFlowMessage(ctx context.Context, flowID, body string, at time.Time) error
	HasNodeVisit(ctx context.Context, flowID, node string) (bool, error)
	UpdateMessageAck(ctx context.Context, externalID string, ack int) error
}

// NodeMap names the flow nodes whose visit decides the patient's answer,
// checked in this order when the flow finishes.
type NodeMap struct {
	Confirm   string
	Cancel    string
	Incorrect string
}

// DefaultNodes matches the confirmation flow definition deployed on the
// gateway.
var DefaultNodes = NodeMap{Confirm: "4", Cancel: "5", Incorrect: "6"}

// Handler consumes flow events, keeping the local conversation state in
// step with the gateway and closing the loop on patient responses.
type Handler struct {
	store    Store
	flowName string
	nodes    NodeMap
	metrics  *metrics.Metrics
}

func NewHandler(store Store, flowName string, nodes NodeMap, m *metrics.Metrics) *Handler {
	return &Handler{store: store, flowName: flowName, nodes: nodes, metrics: m}
}

// HandleEvent is the POST endpoint the gateway calls.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var ev FlowEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if ev.ID == "" {
		writeError(w, http.StatusBadRequest, "missing_id", "event id is required")
		return
	}
	h.metrics.FlowEvent(ev.Event)

	if err := h.apply(r.Context(), ev); err != nil {
		log.Printf("webhook: event=%s flow_id=%s error=%v", ev.Event, ev.ID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) apply(ctx context.Context, ev FlowEvent) error {
	switch ev.Event {
	case "flow_finished", "error":
		return h.finish(ctx, ev)
	case "incoming_message":
		if err := h.ensureFlow(ctx, ev); err != nil {
			return err
		}
		return h.store.RecordFlowMessage(ctx, ev.ID, ev.Message, h.eventTime(ev))
	case "ack":
		ack, err := strconv.Atoi(ev.Message)
		if err != nil {
			log.Printf("webhook: unparseable ack message_id=%s body=%q", ev.ID, ev.Message)
			return nil
		}
		return h.store.UpdateMessageAck(ctx, ev.ID, ack)
	default:
		if err := h.ensureFlow(ctx, ev); err != nil {
			return err
		}
		node := ev.NodeID
		if node == "" {
			node = ev.Event
		}
		return h.store.RecordNodeVisit(ctx, ev.ID, node, h.eventTime(ev))
	}
}

// ensureFlow makes the flow row exist before child rows reference it.
// Events can arrive for flows this process never opened, for example after
// a restart. An existing row keeps its state: the gateway retries events,
// and a retried node event must not reopen a finished flow.
func (h *Handler) ensureFlow(ctx context.Context, ev FlowEvent) error {
	_, err := h.store.GetOrCreateFlow(ctx, appointment.ConversationFlow{
		ID:        ev.ID,
		Recipient: ev.From,
		State:     appointment.FlowOpen,
		StartedAt: h.eventTime(ev),
	})
	return err
}

// finish closes the flow and, for the confirmation flow, records the
// patient's answer according to which decision node was visited.
func (h *Handler) finish(ctx context.Context, ev FlowEvent) error {
	if ev.Flow == h.flowName {
		if err := h.recordResponse(ctx, ev.ID); err != nil {
			return err
		}
	}
	return h.store.CloseFlow(ctx, ev.ID)
}

func (h *Handler) recordResponse(ctx context.Context, flowID string) error {
	appointmentID, err := h.store.AppointmentIDForFlow(ctx, flowID)
	if err != nil {
		if errors.Is(err, appointment.ErrFlowNotFound) {
			log.Printf("webhook: finished flow without linked appointment flow_id=%s", flowID)
			return nil
		}
		return err
	}

	for _, entry := range []struct {
		node     string
		response appointment.PatientResponse
	}{
		{h.nodes.Confirm, appointment.ResponseConfirmed},
		{h.nodes.Cancel, appointment.ResponseCancelled},
		{h.nodes.Incorrect, appointment.ResponseIncorrect},
	} {
		visited, err := h.store.HasNodeVisit(ctx, flowID, entry.node)
		if err != nil {
			return err
		}
		if visited {
			return h.store.SetPatientResponse(ctx, appointmentID, entry.response)
		}
	}
	log.Printf("webhook: flow finished without decision node flow_id=%s appointment=%d", flowID, appointmentID)
	return nil
}

func (h *Handler) eventTime(ev FlowEvent) time.Time {
	if ev.Time != "" {
		if ms, err := strconv.ParseInt(ev.Time, 10, 64); err == nil {
			return time.UnixMilli(ms)
		}
		if t, err := time.Parse(time.RFC3339, ev.Time); err == nil {
			return t
		}
	}
	return time.Now()
}
