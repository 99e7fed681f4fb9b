package gateway

import (
	"encoding/json"
)

// Actions recognized on inbound frames.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionMessage     = "message"
	ActionPong        = "pong"
)

// Actions used on outbound frames. Broadcast payloads reuse the "message"
// action name.
const (
	ActionWelcome     = "welcome"
	ActionPing        = "ping"
	ActionTimeout     = "timeout"
	ActionError       = "error"
	ActionRateLimited = "rate_limited"
)

// InboundFrame is the envelope every client frame must carry.
type InboundFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is the envelope for every frame the gateway sends.
type OutboundFrame struct {
	Action       string          `json:"action"`
	Channel      string          `json:"channel,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Fields       []string        `json:"fields,omitempty"`
}

func welcomeFrame(connID string) OutboundFrame {
	return OutboundFrame{Action: ActionWelcome, ConnectionID: connID}
}

func pingFrame() OutboundFrame {
	return OutboundFrame{Action: ActionPing}
}

func timeoutFrame(reason string) OutboundFrame {
	return OutboundFrame{Action: ActionTimeout, Reason: reason}
}

func errorFrame(reason string, fields []string) OutboundFrame {
	return OutboundFrame{Action: ActionError, Reason: reason, Fields: fields}
}

func rateLimitedFrame(reason string) OutboundFrame {
	return OutboundFrame{Action: ActionRateLimited, Reason: reason}
}

func messageFrame(channel string, payload json.RawMessage) OutboundFrame {
	return OutboundFrame{Action: ActionMessage, Channel: channel, Payload: payload}
}

// encode marshals the frame for the wire. The frame types contain nothing
// that can fail to marshal.
func (f OutboundFrame) encode() []byte {
	raw, _ := json.Marshal(f)
	return raw
}
