package proto

import (
	"encoding/json"

	"github.com/vovakirdan/feelings/internal/realtime"
)

// Inbound is the envelope for requests coming from the client.
// ID is echoed back on the matching result or error.
type Inbound struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello        = "hello"
	InboundTypeSet          = "set"
	InboundTypePush         = "push"
	InboundTypeGet          = "get"
	InboundTypeSub          = "sub"
	InboundTypeUnsub        = "unsub"
	InboundTypeOnDisconnect = "ondisconnect"
	InboundTypeRemove       = "remove"

	OutboundTypeResult   = "result"
	OutboundTypeSnapshot = "snapshot"
	OutboundTypeError    = "error"
)

// Error codes sent in Error.Code.
const (
	CodeBadRequest          = "bad_request"
	CodeInvalidMessage      = "invalid_message"
	CodeStoreError          = "store_error"
	CodeRateLimited         = "rate_limited"
	CodeUnsupportedProtocol = "unsupported_protocol"
)

// HelloData is sent by the client before any other request.
type HelloData struct {
	Protocol int `json:"protocol,omitempty"`
}

// HelloResult confirms the handshake.
type HelloResult struct {
	Protocol int    `json:"protocol"`
	ConnID   string `json:"conn_id"`
}

// SetData writes (set) or appends (push) a value.
type SetData struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// PathData addresses a single path (get, remove, ondisconnect).
type PathData struct {
	Path string `json:"path"`
}

// SubData opens a subscription.
type SubData struct {
	Path  string          `json:"path"`
	Query *realtime.Query `json:"query,omitempty"`
}

// SubResult carries the id of a new subscription.
type SubResult struct {
	Sub string `json:"sub"`
}

// UnsubData closes a subscription.
type UnsubData struct {
	Sub string `json:"sub"`
}

// PushResult carries the generated child key.
type PushResult struct {
	ID string `json:"id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Sub   string `json:"sub,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// RawOutbound is Outbound as decoded by a client.
type RawOutbound struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Sub   string          `json:"sub,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Msg
}
