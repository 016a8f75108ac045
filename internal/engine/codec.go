package engine

import "encoding/json"

// Wire framing: newline-delimited JSON-RPC 2.0 over a stream socket.
// Requests carry a monotonically increasing id; the engine answers with the
// same id. Frames without an id are server-push notifications.

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`

	// Notification fields.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (f *rpcFrame) isNotification() bool { return f.ID == 0 && f.Method != "" }
