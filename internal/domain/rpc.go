package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the protocol version stamped on every outgoing message.
const JSONRPCVersion = "2.0"

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is an incoming JSON-RPC call. A request without an ID (absent or
// JSON null) is a notification and never receives a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no correlation id.
func (r Request) IsNotification() bool {
	return isNullID(r.ID)
}

// HasParams reports whether params were supplied.
func (r Request) HasParams() bool {
	return !isNullID(r.Params)
}

// Response is an outgoing JSON-RPC reply. ID is always serialised, as null
// when the id of a malformed request could not be recovered.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is the error member of a Response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError without data.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Notification is a server-initiated JSON-RPC message without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification methods published on the broadcast bus.
const (
	MethodIdentityChange = "notifications/identityChange"
	MethodCommandQueued  = "notifications/commandQueued"
	MethodMissionUpdate  = "notifications/missionUpdate"
)

// NewNotification builds a notification stamped with the protocol version.
func NewNotification(method string, params any) Notification {
	return Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// Encode serialises the notification into a broadcast payload.
func (n Notification) Encode() (string, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification %s: %w", n.Method, err)
	}
	return string(data), nil
}

// NewResultResponse marshals result into a success response for id.
func NewResultResponse(id json.RawMessage, result any) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, NewRPCError(CodeInternalError, "marshal result: "+err.Error()))
	}
	return &Response{JSONRPC: JSONRPCVersion, Result: data, ID: normalizeID(id)}
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id json.RawMessage, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: JSONRPCVersion, Error: rpcErr, ID: normalizeID(id)}
}

// DecodeRequest parses a single JSON-RPC request. On failure it returns a
// parse-error response carrying the id recovered from the raw value when the
// input was at least a JSON object with an "id" member.
func DecodeRequest(data []byte) (Request, *Response) {
	var req Request
	if err := json.Unmarshal(data, &req); err == nil && req.Method != "" {
		if req.JSONRPC == "" {
			req.JSONRPC = JSONRPCVersion
		}
		return req, nil
	}
	return Request{}, NewErrorResponse(RecoverID(data), NewRPCError(CodeParseError, "Parse error"))
}

// RecoverID extracts a top-level "id" member from data, or nil.
func RecoverID(data []byte) json.RawMessage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil
	}
	id, ok := probe["id"]
	if !ok || isNullID(id) {
		return nil
	}
	return id
}

var jsonNull = json.RawMessage("null")

func isNullID(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull)
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if isNullID(id) {
		return jsonNull
	}
	return id
}
