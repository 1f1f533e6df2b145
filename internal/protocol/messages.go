// Package protocol defines the JSON payloads exchanged between Santa services
// over NATS, and the messages of the organizer live feed WebSocket. Feed
// messages follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Draw payloads (NATS)
// ---------------------------------------------------------------------------

// Draw result statuses.
const (
	DrawComplete   = "complete"   // assignments persisted, notifications queued
	DrawIncomplete = "incomplete" // no full matching exists under the restrictions
	DrawBusy       = "busy"       // another draw for the event is running
	DrawRejected   = "rejected"   // unknown event, already drawn, or load failure
)

// DrawRequest is published by the API on draw.request when an organizer asks
// for assignments to be drawn.
type DrawRequest struct {
	EventID     string `json:"event_id"`
	RequestedBy string `json:"requested_by"`
	RequestedAt int64  `json:"requested_at"`
}

// DrawResult is published by the matcher on draw.result.<event_id>. It never
// carries the assignments themselves, only who could not be matched.
type DrawResult struct {
	EventID   string   `json:"event_id"`
	Status    string   `json:"status"`
	Tier      string   `json:"tier,omitempty"`
	Assigned  int      `json:"assigned"`
	Unmatched []string `json:"unmatched,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Notification channels.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// Channels lists every supported notification channel.
var Channels = []string{ChannelEmail, ChannelSMS, ChannelWhatsApp}

// Notification tells one giver, over one channel, who they are buying for.
// Published on notify.<channel>.
type Notification struct {
	EventID       string `json:"event_id"`
	EventName     string `json:"event_name"`
	Channel       string `json:"channel"`
	To            string `json:"to"` // email address or phone number
	GiverName     string `json:"giver_name"`
	ReceiverName  string `json:"receiver_name"`
	ReceiverEmail string `json:"receiver_email"`
	Wishlist      string `json:"wishlist,omitempty"`
	BudgetCents   int64  `json:"budget_cents"`
	Currency      string `json:"currency"`
	ExchangeDate  string `json:"exchange_date,omitempty"` // YYYY-MM-DD
}

// ---------------------------------------------------------------------------
// Live feed message types
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypePing = "ping"
)

// Server -> Client message types.
const (
	TypeWatching   = "watching"
	TypeDrawResult = "draw_result"
	TypeError      = "error"
	TypePong       = "pong"
)

// ---------------------------------------------------------------------------
// Envelope: initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// PingMsg is an application-level keepalive from the organizer's browser.
type PingMsg struct {
	Type string `json:"type"`
}

// WatchingMsg confirms the feed subscription for an event.
type WatchingMsg struct {
	EventID string `json:"event_id"`
}

// ErrorMsg reports a feed-level error to the client.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg answers a PingMsg.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// An error is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypePing:
		var m PingMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return env.Type, m, nil
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}
}

// NewServerMessage creates a JSON-encoded server message. The msgType is
// injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
