package domain

// EventKind identifies the variant of a StreamEvent.
type EventKind string

const (
	EventContentDelta EventKind = "content_delta"
	EventToolUseStart EventKind = "tool_use_start"
	EventToolUseDelta EventKind = "tool_use_delta"
	EventMessageStop  EventKind = "message_stop"
	EventOther        EventKind = "other"
)

// StopReason is the terminal marker explaining why generation ended.
type StopReason string

const (
	StopEndTurn         StopReason = "end_turn"
	StopToolUse         StopReason = "tool_use"
	StopMaxTokens       StopReason = "max_tokens"
	StopSequence        StopReason = "stop_sequence"
	StopGuardrail       StopReason = "guardrail_intervened"
	StopContentFiltered StopReason = "content_filtered"
)

// StreamEvent is a single incremental unit of a streamed response.
//
// Only the fields matching Kind are set: Text for content and tool-use
// deltas, ToolUse for tool-use starts, StopReason for message stops. Usage may
// accompany an EventOther carrying end-of-stream metadata. Raw holds the
// provider's original event for diagnostics.
type StreamEvent struct {
	Kind       EventKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolUse    *ToolInvocation `json:"tool_use,omitempty"`
	StopReason StopReason      `json:"stop_reason,omitempty"`
	Usage      *Usage          `json:"usage,omitempty"`
	Raw        any             `json:"raw,omitempty"`
}
