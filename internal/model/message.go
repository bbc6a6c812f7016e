package model

import (
	"encoding/base64"
)

// Signal types carried end to end. Values match the client protocol and must
// not be renumbered.
const (
	SignalTypeUnknown      int32 = 0
	SignalTypeCiphertext   int32 = 1
	SignalTypeKeyExchange  int32 = 2
	SignalTypePrekeyBundle int32 = 3
	SignalTypeReceipt      int32 = 5
)

// IncomingMessage is one per-destination-device entry of a bundle. The sender
// encrypts separately for every device, so each entry carries its own body and
// the registration id the sender encrypted against.
type IncomingMessage struct {
	Type                      int32  `json:"type"`
	DestinationDeviceID       uint64 `json:"destination_device_id"`
	DestinationRegistrationID uint32 `json:"destination_registration_id"`
	Body                      string `json:"body"` // base64
}

// DecodedBody returns the decoded message body, or nil if the base64 is bad.
// A bad body is not a delivery error; the signal is sent without content.
func (m *IncomingMessage) DecodedBody() []byte {
	if m.Body == "" {
		return nil
	}
	body, err := base64.StdEncoding.DecodeString(m.Body)
	if err != nil {
		return nil
	}
	return body
}

// IncomingMessageList is a sender's multi-device message bundle. Relay names
// the federated peer hosting the destination, empty for local destinations.
// Timestamp 0 means "use receipt time".
type IncomingMessageList struct {
	Relay     string            `json:"relay,omitempty"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Messages  []IncomingMessage `json:"messages"`
}

// DeviceIDs returns the set of destination device ids named in the bundle.
func (l *IncomingMessageList) DeviceIDs() map[uint64]bool {
	ids := make(map[uint64]bool)
	for i := range l.Messages {
		ids[l.Messages[i].DestinationDeviceID] = true
	}
	return ids
}

// OutgoingMessageSignal is the immutable per-device delivery unit handed to
// the router. Timestamp is Unix milliseconds.
type OutgoingMessageSignal struct {
	Type         int32  `json:"type"`
	Source       string `json:"source"`
	SourceDevice uint64 `json:"source_device"`
	Timestamp    int64  `json:"timestamp"`
	Message      []byte `json:"message,omitempty"`
	Relay        string `json:"relay,omitempty"`
}

// IsReceipt reports whether the signal is a delivery receipt.
func (s *OutgoingMessageSignal) IsReceipt() bool {
	return s.Type == SignalTypeReceipt
}
