package mcp

import (
	"encoding/json"
	"fmt"
)

// protocolVersion is the MCP revision this client negotiates.
const protocolVersion = "2024-11-05"

// rpcRequest is an outgoing JSON-RPC request or notification.
// ID is nil for notifications (no response expected).
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func newRequest(id int64, method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

func newNotification(method string, params any) rpcRequest {
	return rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
}

// rpcError is the JSON-RPC error object embedded in a response.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

const codeMethodNotFound = -32601

// rpcErrorResponse is sent back for server-initiated requests this client
// does not support.
type rpcErrorResponse struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      int64    `json:"id"`
	Error   rpcError `json:"error"`
}

func newErrorResponse(id int64, code int, message string) rpcErrorResponse {
	return rpcErrorResponse{JSONRPC: "2.0", ID: id, Error: rpcError{Code: code, Message: message}}
}

// frameKind tags the shape of a decoded incoming frame. Anything that does
// not match one of the four JSON-RPC shapes is frameInvalid and dropped.
type frameKind int

const (
	frameInvalid frameKind = iota
	frameResponse
	frameRequest      // server-initiated request (carries an id)
	frameNotification // server-initiated, no id
)

// incomingFrame is one decoded message from the provider, parsed into its
// tagged variant at the frame boundary.
type incomingFrame struct {
	kind   frameKind
	id     int64
	result json.RawMessage // frameResponse
	err    *rpcError       // frameResponse with error member
	method string          // frameRequest / frameNotification
	params json.RawMessage // frameRequest / frameNotification
}

// classifyFrame parses a raw frame into one of the four JSON-RPC shapes.
func classifyFrame(raw json.RawMessage) incomingFrame {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *int64          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.JSONRPC != "2.0" {
		return incomingFrame{kind: frameInvalid}
	}

	switch {
	case probe.Method != "" && probe.ID != nil:
		return incomingFrame{kind: frameRequest, id: *probe.ID, method: probe.Method, params: probe.Params}
	case probe.Method != "":
		return incomingFrame{kind: frameNotification, method: probe.Method, params: probe.Params}
	case probe.ID != nil && (probe.Result != nil || probe.Error != nil):
		return incomingFrame{kind: frameResponse, id: *probe.ID, result: probe.Result, err: probe.Error}
	default:
		return incomingFrame{kind: frameInvalid}
	}
}

// ---------------------------------------------------------------------------
// Protocol result shapes
// ---------------------------------------------------------------------------

// ToolInfo is one tool advertised by a provider via tools/list.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ContentPart is one block in a tools/call result.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the structured result of a tools/call invocation.
// Raw preserves the full result body for callers that need a JSON fallback
// rendering when no textual parts are present.
type CallResult struct {
	Content []ContentPart   `json:"content"`
	IsError bool            `json:"isError"`
	Raw     json.RawMessage `json:"-"`
}
