package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	JSONRPCVersion = "2.0"

	MCPVersion           = "2025-03-26"
	MCPVersionLegacy     = "2024-11-05"
	MCPVersion2025_06_18 = "2025-06-18"
)

// JSON-RPC 2.0 standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// MCP specific error codes
const (
	ToolNotFound     = -32000
	PromptNotFound   = -32001
	ResourceNotFound = -32002
)

// Message is the generic JSON-RPC 2.0 envelope. A request carries ID and
// Method, a notification carries Method only, a response carries ID plus
// Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a serializable JSON-RPC response. ID is always emitted; for
// requests whose id could not be recovered it is JSON null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a serializable JSON-RPC notification (no id, no reply).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResponse builds a success response echoing the request id.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: normalizeID(id), Result: result}
}

// NewErrorResponse builds an error response echoing the request id.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      normalizeID(id),
		Error:   &Error{Code: code, Message: message},
	}
}

// NewNotification builds a notification for the given method.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// MessageType classifies a decoded JSON-RPC envelope.
type MessageType int

const (
	MessageInvalid MessageType = iota
	MessageRequest
	MessageNotification
	MessageResponse
)

// Classify determines the JSON-RPC message type of m. Envelopes without
// jsonrpc "2.0" are invalid.
func (m *Message) Classify() MessageType {
	if m.JSONRPC != JSONRPCVersion {
		return MessageInvalid
	}
	if m.Method != "" {
		if len(m.ID) > 0 {
			return MessageRequest
		}
		return MessageNotification
	}
	if len(m.Result) > 0 || m.Error != nil {
		return MessageResponse
	}
	return MessageInvalid
}

// IsNotification reports whether the message carries no id.
func (m *Message) IsNotification() bool {
	return len(m.ID) == 0
}

// IDString renders the request id as a string for map keys and logging.
func IDString(id json.RawMessage) string {
	if len(id) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		return s
	}

	var n float64
	if err := json.Unmarshal(id, &n); err == nil {
		if n == float64(int64(n)) {
			return fmt.Sprintf("%.0f", n)
		}
		return fmt.Sprintf("%g", n)
	}

	return string(id)
}

// StringToID converts a string form back into a raw JSON-RPC id.
func StringToID(id string) json.RawMessage {
	if id == "" {
		return nil
	}

	if n, err := strconv.ParseFloat(id, 64); err == nil {
		if n == float64(int64(n)) {
			return json.RawMessage(fmt.Sprintf("%.0f", n))
		}
		return json.RawMessage(fmt.Sprintf("%g", n))
	}

	b, _ := json.Marshal(id)
	return b
}

// DecodeBody parses an HTTP body into either a single message or a batch.
// batch is true when the body was a JSON array, which per JSON-RPC 2.0 is
// processed element by element.
func DecodeBody(body []byte) (single *Message, batch []*Message, isBatch bool, err error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var msgs []*Message
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, nil, true, fmt.Errorf("decode batch: %w", err)
		}
		return nil, msgs, true, nil
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, nil, false, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil, false, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}
