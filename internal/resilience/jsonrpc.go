package resilience

import "encoding/json"

// jsonrpcRequest/jsonrpcResponse implement the literal JSON-RPC 2.0
// envelope spec.md §4.6 requires byte-for-byte (the initialize
// handshake and tools/call params), which is why the transport
// adapters hand-roll this instead of going through a higher-level MCP
// SDK (see DESIGN.md).
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ClientInfo      clientInfo      `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

const mcpProtocolVersion = "2024-11-05"

func newInitializeRequest(id int64) jsonrpcRequest {
	return jsonrpcRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		ID:      id,
		Params: initializeParams{
			ProtocolVersion: mcpProtocolVersion,
			Capabilities:    json.RawMessage(`{}`),
			ClientInfo:      clientInfo{Name: "orchestrator", Version: "1.0.0"},
		},
	}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func newToolCallRequest(id int64, tool string, args map[string]any) jsonrpcRequest {
	return jsonrpcRequest{
		JSONRPC: "2.0",
		Method:  "tools/call",
		ID:      id,
		Params:  toolCallParams{Name: tool, Arguments: args},
	}
}
