// Package jsonrpc implements JSON-RPC 2.0 message framing for MCP: request,
// response, and notification shapes, ID correlation, and the standard error
// codes. It has no knowledge of transports or MCP method semantics; those
// live in internal/mcptypes and internal/session.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ID is the JSON-RPC request identifier, a string or a number on the wire.
// Notifications carry no ID at all, which json.RawMessage(nil) represents.
type ID struct {
	raw json.RawMessage
}

func NewIDFromInt(n int64) ID {
	b, _ := json.Marshal(n)
	return ID{raw: b}
}

func NewIDFromString(s string) ID {
	b, _ := json.Marshal(s)
	return ID{raw: b}
}

func (id ID) IsZero() bool { return len(id.raw) == 0 }

func (id ID) String() string {
	if id.IsZero() {
		return ""
	}

	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}

	return string(id.raw)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}

	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Message is the superset envelope every line of a stdio transport, every SSE
// "message" event, and every streamable-HTTP body is decoded into before
// being classified as a Request, Response, or Notification.
type Message struct {
	JSONRPC string `json:"jsonrpc"`
	Method string `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	ID *ID `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// IsRequest reports whether m carries a method and an ID, i.e. expects a
// Response.
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m carries a method but no ID.
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether m carries a result or an error and an ID.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// Request is a JSON-RPC call expecting a Response.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method string `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID ID `json:"id"`
}

// Notification is a JSON-RPC call with no ID; it never receives a Response.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method string `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the reply to a Request: exactly one of Result/Error is set.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result json.RawMessage `json:"result,omitempty"`
	Error *Error `json:"error,omitempty"`
	ID ID `json:"id"`
}

func (r *Response) IsError() bool { return r.Error != nil }

// Error is the JSON-RPC error object, identical on the wire whether it
// originated at a backend or was synthesized by the proxy.
type Error struct {
	Code int `json:"code"`
	Message string `json:"message"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a Request, marshaling params with json.Marshal.
func NewRequest(id ID, method string, params interface{}) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{JSONRPC: Version, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a Notification, marshaling params with json.Marshal.
func NewNotification(method string, params interface{}) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a successful Response.
func NewResponse(id ID, result interface{}) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}

	return &Response{JSONRPC: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error Response carrying code/message/data.
func NewErrorResponse(id ID, code int, message string, data interface{}) *Response {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}

	return &Response{
		JSONRPC: Version,
		Error: &Error{Code: code, Message: message, Data: raw},
		ID: id,
	}
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	return raw, nil
}

// Parse decodes a single JSON-RPC message. It does not distinguish batches:
// batched requests are out of scope and each line/event/body is exactly one
// message.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode jsonrpc message: %w", err)
	}

	if m.JSONRPC != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", m.JSONRPC)
	}

	if m.Result != nil && m.Error != nil {
		return nil, fmt.Errorf("jsonrpc message carries both result and error")
	}

	return &m, nil
}
