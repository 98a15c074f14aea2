package models

import "encoding/json"

// Envelope is the typed wrapper multiplexing heterogeneous messages
// over one realtime connection. ID is the client's correlation id and
// is echoed back verbatim on the reply.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply is the response envelope for a dispatched request.
type Reply struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	OK      bool           `json:"ok"`
	Payload any            `json:"payload,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
}

// EnvelopeError carries a typed failure back to the client without
// dropping the connection.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
