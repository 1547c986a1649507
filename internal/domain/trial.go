package domain

import "time"

// Status is the classified outcome of one trial.
type Status string

const (
	StatusOK      Status = "OK"
	StatusEmpty   Status = "EMPTY"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
)

// Passed reports whether s counts as a passing trial. Only OK passes.
func (s Status) Passed() bool { return s == StatusOK }

// Expectation selects what a successful answer must contain.
type Expectation string

const (
	// ExpectText passes when the final answer has non-blank text.
	ExpectText Expectation = "text"
	// ExpectToolUse passes when the model emits a tool invocation.
	ExpectToolUse Expectation = "tool_use"
)

// TrialSpec describes one trial to run.
type TrialSpec struct {
	Label      string `json:"label,omitempty"`
	Model      string `json:"model"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
}

// TrialResult is the immutable outcome of one completed or aborted trial.
type TrialResult struct {
	Label             string          `json:"label,omitempty"`
	Model             string          `json:"model"`
	ToolCallID        string          `json:"tool_call_id,omitempty"`
	Status            Status          `json:"status"`
	Excerpt           string          `json:"excerpt"`
	StopReason        StopReason      `json:"stop_reason,omitempty"`
	EventCount        int             `json:"event_count"`
	ContentEventCount int             `json:"content_event_count"`
	ToolUse           *ToolInvocation `json:"tool_use,omitempty"`
	Usage             *Usage          `json:"usage,omitempty"`
	ErrorCode         ErrorCode       `json:"error_code,omitempty"`
	Duration          time.Duration   `json:"duration"`
}

// BatchSummary aggregates the results of a sequential batch.
type BatchSummary struct {
	RunID  string        `json:"run_id"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Trials []TrialResult `json:"trials"`
}

// Add appends r and updates the pass/fail counters.
func (b *BatchSummary) Add(r TrialResult) {
	b.Trials = append(b.Trials, r)
	if r.Status.Passed() {
		b.Passed++
	} else {
		b.Failed++
	}
}

// Total returns the number of recorded trials.
func (b *BatchSummary) Total() int { return len(b.Trials) }

// Count returns the number of trials with the given status.
func (b *BatchSummary) Count(s Status) int {
	n := 0
	for _, r := range b.Trials {
		if r.Status == s {
			n++
		}
	}
	return n
}
