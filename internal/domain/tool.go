package domain

import "encoding/json"

// ToolSchema advertises a callable tool to the inference endpoint.
// Name must be unique within a request.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolInvocation is a tool call observed in a streamed response. Input is the
// concatenation of every input fragment in arrival order.
type ToolInvocation struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input,omitempty"`
}
