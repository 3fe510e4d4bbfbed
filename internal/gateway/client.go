package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client talks to the messaging gateway. Send failures are reported through
// ack codes rather than errors so callers can persist every attempt the same
// way.
type Client struct {
	messageURL string
	flowURL    string
	httpClient *http.Client
}

func NewClient(messageURL, flowURL string, timeout time.Duration) *Client {
	return &Client{
		messageURL: messageURL,
		flowURL:    flowURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Response is the gateway's reply to a send or flow-start request.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// OK reports whether the gateway accepted the request.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// MessageID returns the gateway-assigned message id, if present.
func (r Response) MessageID() (string, bool) {
	return r.stringField("id")
}

// FlowID returns the gateway-assigned conversation flow id, if present.
func (r Response) FlowID() (string, bool) {
	return r.stringField("id")
}

func (r Response) stringField(key string) (string, bool) {
	v, ok := r.Body[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// DecodeAck maps a gateway response to the ack code stored with the message.
// Transport-level HTTP errors take precedence over any body payload; a 2xx
// reply defers to the "ack" field the gateway reports.
func DecodeAck(r Response) int {
	switch r.StatusCode {
	case http.StatusServiceUnavailable:
		return -5
	case http.StatusBadRequest:
		return -4
	case http.StatusNotFound:
		return -3
	case http.StatusUnprocessableEntity:
		return -2
	case http.StatusInternalServerError:
		return -1
	}
	if v, ok := r.Body["ack"]; ok {
		switch t := v.(type) {
		case float64:
			return int(t)
		case int:
			return t
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return int(n)
			}
		}
	}
	return -5
}

// SendMessage posts one text message to the recipient. A transport failure
// is folded into a 503 response so the caller records the attempt like any
// other rejection.
func (c *Client) SendMessage(ctx context.Context, phone, text string) Response {
	payload := map[string]any{
		"numero": phone,
		"texto":  text,
	}
	return c.post(ctx, c.messageURL, payload)
}

// StartFlow asks the gateway to open the named conversational flow with the
// recipient, directing flow events back at the given webhook endpoint.
func (c *Client) StartFlow(ctx context.Context, phone, flowName, endpoint string) Response {
	payload := map[string]any{
		"numero":   phone,
		"flowName": flowName,
		"endpoint": endpoint,
	}
	return c.post(ctx, c.flowURL, payload)
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) Response {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("gateway: marshal payload: %v", err)
		return Response{StatusCode: http.StatusServiceUnavailable}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("gateway: build request: %v", err)
		return Response{StatusCode: http.StatusServiceUnavailable}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("gateway: url=%s error=%v", url, err)
		return Response{StatusCode: http.StatusServiceUnavailable}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Printf("gateway: read response url=%s status=%d error=%v", url, resp.StatusCode, err)
		return Response{StatusCode: resp.StatusCode}
	}

	out := Response{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out.Body); err != nil {
			log.Printf("gateway: decode response url=%s status=%d error=%v", url, resp.StatusCode, err)
		}
	}
	return out
}

// Messenger is the send surface the dispatchers depend on.
type Messenger interface {
	SendMessage(ctx context.Context, phone, text string) Response
}

// FlowStarter opens conversational flows.
type FlowStarter interface {
	StartFlow(ctx context.Context, phone, flowName, endpoint string) Response
}

var _ Messenger = (*Client)(nil)
var _ FlowStarter = (*Client)(nil)

// String renders a response compactly for logs.
func (r Response) String() string {
	return fmt.Sprintf("status=%d ack=%d", r.StatusCode, DecodeAck(r))
}
