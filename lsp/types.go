package lsp

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// JSON-RPC 2.0 error codes used by the gateway.
const (
	CodeParseError           = -32700
	CodeInvalidRequest       = -32600
	CodeMethodNotFound       = -32601
	CodeInternalError        = -32603
	CodeServerNotInitialized = -32002
)

// ID is a JSON-RPC request id, either a number or a string. The zero
// value is the number 0. IDs are comparable and usable as map keys.
type ID struct {
	Num      int64
	Str      string
	IsString bool
}

// NumberID returns a numeric request id.
func NumberID(n int64) ID {
	return ID{Num: n}
}

// StringID returns a string request id.
func StringID(s string) ID {
	return ID{Str: s, IsString: true}
}

func (id ID) String() string {
	if id.IsString {
		return strconv.Quote(id.Str)
	}
	return strconv.FormatInt(id.Num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsString {
		return json.Marshal(id.Str)
	}
	return json.Marshal(id.Num)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*id = ID{Num: num}
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*id = ID{Str: str, IsString: true}
		return nil
	}

	return fmt.Errorf("request id must be a number or a string, got %s", data)
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message is a parsed JSON-RPC 2.0 message: a request (method and id),
// a notification (method, no id), or a response (id with result or
// error). The original body is retained so messages can be forwarded
// verbatim without a re-marshal round trip.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`

	raw []byte
}

// DecodeMessage parses a single JSON-RPC message body.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}

	msg.raw = body

	return &msg, nil
}

// Raw returns the message exactly as it appeared on the wire. For
// messages constructed in-process it marshals on first use.
func (m *Message) Raw() []byte {
	if m.raw == nil {
		data, err := json.Marshal(m)
		if err != nil {
			return nil
		}
		m.raw = data
	}
	return m.raw
}

// IsNotification reports whether the message is a notification.
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// IsResponse reports whether the message is a response to a request.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil
}

// NewRequest builds a request message. Params are marshaled eagerly so
// encoding failures surface before anything hits the wire.
func NewRequest(id ID, method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return raw, nil
}

// ErrorReply is a locally generated error response. It is marshaled
// with an explicit id member so a parse-error reply carries "id": null
// as JSON-RPC requires.
type ErrorReply struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      *ID            `json:"id"`
	Error   *ResponseError `json:"error"`
}

// NewErrorReply builds an error reply for the given request id. A nil
// id produces "id": null.
func NewErrorReply(id *ID, code int64, message string) *ErrorReply {
	return &ErrorReply{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	}
}

// Encode marshals the reply body.
func (r *ErrorReply) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}
