package model

import "encoding/json"

// Push relay protocol (v1). Outbound pushes are JSON objects written on the
// persistent relay connection; inbound frames are demultiplexed on the
// message_type field. A frame with no message_type is an upstream message
// from a device.
const (
	RelayFrameAck     = "ack"
	RelayFrameNack    = "nack"
	RelayFrameReceipt = "receipt"
	RelayFrameControl = "control"
)

// Relay nack error codes.
const (
	RelayErrBadRegistration     = "BAD_REGISTRATION"
	RelayErrDeviceUnregistered  = "DEVICE_UNREGISTERED"
	RelayErrInternalServerError = "INTERNAL_SERVER_ERROR"
	RelayErrServiceUnavailable  = "SERVICE_UNAVAILABLE"
	RelayErrInvalidJSON         = "INVALID_JSON"
	RelayErrQuotaExceeded       = "QUOTA_EXCEEDED"
)

// RelayControlConnectionDraining tells us the relay is about to close this
// connection and we should reconnect proactively.
const RelayControlConnectionDraining = "CONNECTION_DRAINING"

// PushFrame is the outbound push written to the relay.
type PushFrame struct {
	To        string   `json:"to"`
	MessageID string   `json:"message_id"`
	Data      PushData `json:"data"`
}

// PushData is the payload object of an outbound push. The body key depends on
// the payload kind: "message" for messages, "receipt" for delivery receipts.
type PushData struct {
	Receipt bool
	Body    string // base64 ciphertext
}

// MarshalJSON emits {"type":"message","message":...} or
// {"type":"receipt","receipt":...}.
func (d PushData) MarshalJSON() ([]byte, error) {
	kind := "message"
	if d.Receipt {
		kind = "receipt"
	}
	return json.Marshal(map[string]string{
		"type": kind,
		kind:   d.Body,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *PushData) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Receipt = raw["type"] == "receipt"
	if d.Receipt {
		d.Body = raw["receipt"]
	} else {
		d.Body = raw["message"]
	}
	return nil
}

// RelayInboundFrame is a frame read from the relay connection. Fields are a
// superset across frame kinds; MessageType selects which are meaningful.
type RelayInboundFrame struct {
	MessageType string `json:"message_type,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	From        string `json:"from,omitempty"`
	Error       string `json:"error,omitempty"`
	ControlType string `json:"control_type,omitempty"`
}

// IsUpstream reports whether the frame is an upstream device message rather
// than a relay control/ack frame.
func (f *RelayInboundFrame) IsUpstream() bool {
	return f.MessageType == ""
}

// RelayAckFrame acknowledges an upstream message back to the relay.
type RelayAckFrame struct {
	MessageType string `json:"message_type"`
	To          string `json:"to"`
	MessageID   string `json:"message_id"`
}

// Local streaming channel frames (clients with fetches_messages).
const (
	FrameTypeHello   = "hello"
	FrameTypeHelloOK = "hello_ok"
	FrameTypeSignal  = "signal"
	FrameTypeError   = "error"
)

// WSFrame is a frame on a local streaming client connection.
type WSFrame struct {
	Type     string                 `json:"type"`
	Number   string                 `json:"number,omitempty"`
	DeviceID uint64                 `json:"device_id,omitempty"`
	Signal   *OutgoingMessageSignal `json:"signal,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

// Federation frames (relay-to-relay; clients must never receive these).
const (
	FrameTypePeerHello = "peer_hello"
	FrameTypePeerOK    = "peer_ok"
	FrameTypePeerSend  = "peer_send"
)

// PeerHelloFrame is the handshake between federated relays.
type PeerHelloFrame struct {
	Type    string `json:"type"`
	RelayID string `json:"relay_id"`
	Version string `json:"version"`
}

// PeerSendFrame carries a sender's bundle verbatim to the relay hosting the
// destination, which re-runs fan-out validation locally.
type PeerSendFrame struct {
	Type         string               `json:"type"`
	Source       string               `json:"source"`
	SourceDevice uint64               `json:"source_device"`
	Destination  string               `json:"destination"`
	Messages     *IncomingMessageList `json:"messages"`
}
