package fixture

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"streamprobe/internal/domain"
)

// Validate reports fixture bugs as domain.ErrInvalidFixture: a conversation
// that does not open with the user, tool invocations with empty or repeated
// ids, tool results that do not answer exactly one earlier invocation, repeated
// tool names, and tool inputs that do not satisfy the declared schema.
func Validate(conv Conversation) error {
	if len(conv.Turns) == 0 {
		return invalid("conversation has no turns")
	}
	if conv.Turns[0].Role() != domain.RoleUser {
		return invalid("conversation must open with a user turn")
	}

	tools := make(map[string]domain.ToolSchema, len(conv.Tools))
	for _, t := range conv.Tools {
		if t.Name == "" {
			return invalid("tool with empty name")
		}
		if _, dup := tools[t.Name]; dup {
			return invalid(fmt.Sprintf("duplicate tool %q", t.Name))
		}
		tools[t.Name] = t
	}

	pending := make(map[string]bool) // tool-call id -> awaiting result
	for i, turn := range conv.Turns {
		switch t := turn.(type) {
		case domain.AssistantToolUse:
			if t.ToolCallID == "" {
				return invalid(fmt.Sprintf("turn %d: empty tool-call id", i))
			}
			if _, seen := pending[t.ToolCallID]; seen {
				return invalid(fmt.Sprintf("turn %d: tool-call id %q reused", i, t.ToolCallID))
			}
			pending[t.ToolCallID] = true

			tool, ok := tools[t.ToolName]
			if !ok {
				return invalid(fmt.Sprintf("turn %d: tool %q is not declared", i, t.ToolName))
			}
			if err := validateToolInput(tool, t.Input); err != nil {
				return invalid(fmt.Sprintf("turn %d: %v", i, err))
			}

		case domain.UserToolResult:
			awaiting, seen := pending[t.ToolCallID]
			if !seen {
				return invalid(fmt.Sprintf("turn %d: tool result %q has no matching tool use", i, t.ToolCallID))
			}
			if !awaiting {
				return invalid(fmt.Sprintf("turn %d: tool use %q answered twice", i, t.ToolCallID))
			}
			pending[t.ToolCallID] = false
		}
	}
	return nil
}

// validateToolInput checks input against the tool's JSON schema.
func validateToolInput(tool domain.ToolSchema, input json.RawMessage) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(tool.InputSchema))
	if err != nil {
		return fmt.Errorf("tool %q: invalid schema: %w", tool.Name, err)
	}

	var data any = map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &data); err != nil {
			return fmt.Errorf("tool %q: input is not JSON: %w", tool.Name, err)
		}
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("tool %q: input does not match schema: %s", tool.Name, result.Error())
	}
	return nil
}

func invalid(detail string) error {
	return domain.NewDomainError("Fixture.Validate", domain.ErrInvalidFixture, detail)
}
