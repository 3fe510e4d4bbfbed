package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sisalud/appointment-notifier/internal/appointment"
	"github.com/sisalud/appointment-notifier/internal/gateway"
)

// MessageStore persists message audit rows. Both the repository and its
// in-transaction view satisfy it, so dispatch can run inside a row lock.
type MessageStore interface {
	AppendMessage(ctx context.Context, m appointment.Message) error
}

// Dispatcher sends rendered notifications and records every attempt,
// delivered or not.
type Dispatcher struct {
	messenger gateway.Messenger
}

func NewDispatcher(messenger gateway.Messenger) *Dispatcher {
	return &Dispatcher{messenger: messenger}
}

// Dispatch sends body to phone and appends the audit row through store.
// An empty phone skips the gateway and records ack -4. The returned ack is
// DecodeAck of the gateway response; the error covers persistence only.
func (d *Dispatcher) Dispatch(ctx context.Context, store MessageStore, appointmentID int64, templateID int64, phone, body string) (int, error) {
	msg := appointment.Message{
		AppointmentID: &appointmentID,
		TemplateID:    templateID,
		SentAt:        time.Now(),
	}

	ack := -4
	if phone != "" {
		msg.Recipient = &phone
		resp := d.messenger.SendMessage(ctx, phone, body)
		ack = gateway.DecodeAck(resp)
		if id, ok := resp.MessageID(); ok {
			msg.ExternalID = &id
		}
		log.Printf("notify: dispatched appointment=%d template=%d %s", appointmentID, templateID, resp)
	} else {
		log.Printf("notify: no phone appointment=%d template=%d ack=%d", appointmentID, templateID, ack)
	}
	msg.Ack = ack

	if err := store.AppendMessage(ctx, msg); err != nil {
		return ack, fmt.Errorf("append message appointment=%d: %w", appointmentID, err)
	}
	return ack, nil
}
