package domain

import "encoding/json"

// Role constants for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolResultStatus is the outcome carried by a tool result turn.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
)

// Turn is one entry of a scripted conversation. The concrete types are
// UserText, AssistantText, AssistantToolUse and UserToolResult.
type Turn interface {
	Role() string
	isTurn()
}

// UserText is a plain user message.
type UserText struct {
	Text string `json:"text"`
}

// AssistantText is plain assistant output replayed as history.
type AssistantText struct {
	Text string `json:"text"`
}

// AssistantToolUse is an assistant request to invoke a tool.
type AssistantToolUse struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input"`
}

// UserToolResult returns a tool's output to the model. ToolCallID must match
// exactly one preceding AssistantToolUse in the same conversation.
type UserToolResult struct {
	ToolCallID string           `json:"tool_call_id"`
	Content    string           `json:"content"`
	Status     ToolResultStatus `json:"status"`
}

func (UserText) Role() string         { return RoleUser }
func (AssistantText) Role() string    { return RoleAssistant }
func (AssistantToolUse) Role() string { return RoleAssistant }
func (UserToolResult) Role() string   { return RoleUser }

func (UserText) isTurn()         {}
func (AssistantText) isTurn()    {}
func (AssistantToolUse) isTurn() {}
func (UserToolResult) isTurn()   {}

// StreamRequest is sent to a streaming inference endpoint.
type StreamRequest struct {
	Model     string       `json:"model"`
	Turns     []Turn       `json:"-"`
	Tools     []ToolSchema `json:"tools,omitempty"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption reported at the end of a stream.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}
