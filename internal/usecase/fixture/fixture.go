// Package fixture builds the fixed conversations sent to the model under test.
package fixture

import (
	"encoding/json"
	"fmt"
	"strings"

	"streamprobe/internal/domain"
)

// Scenario names a conversation shape.
type Scenario string

const (
	// ScenarioToolResult ends with a tool result and expects a text answer.
	ScenarioToolResult Scenario = "tool-result"
	// ScenarioToolResultPreamble is ScenarioToolResult with assistant text
	// before the tool invocation.
	ScenarioToolResultPreamble Scenario = "tool-result-preamble"
	// ScenarioBasicChat is a single arithmetic question with no tools.
	ScenarioBasicChat Scenario = "basic-chat"
	// ScenarioToolCall offers a tool and expects the model to invoke it.
	ScenarioToolCall Scenario = "tool-call"
)

// DefaultToolCallID is used when a trial does not name one.
const DefaultToolCallID = "abc123xyz"

const (
	weatherToolName  = "get_weather"
	weatherQuestion  = "Get weather for Tokyo"
	weatherPreamble  = "I'll get the weather for Tokyo."
	weatherResult    = `{"temperature": 22, "conditions": "sunny", "humidity": 60}`
	basicQuestion    = "What is 15 + 27? Reply with just the number."
	toolCallQuestion = "What's the weather in San Francisco?"
)

var weatherInput = json.RawMessage(`{"city":"Tokyo"}`)

// Conversation is a complete fixture ready to be sent.
type Conversation struct {
	Scenario Scenario
	Turns    []domain.Turn
	Tools    []domain.ToolSchema
	Expect   domain.Expectation
}

// Scenarios lists every known scenario.
func Scenarios() []Scenario {
	return []Scenario{ScenarioToolResult, ScenarioToolResultPreamble, ScenarioBasicChat, ScenarioToolCall}
}

// ParseScenario resolves a scenario name. An empty name is ScenarioToolResult.
func ParseScenario(name string) (Scenario, error) {
	if strings.TrimSpace(name) == "" {
		return ScenarioToolResult, nil
	}
	for _, s := range Scenarios() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", domain.NewDomainError("Fixture.ParseScenario", domain.ErrInvalidFixture,
		fmt.Sprintf("unknown scenario %q", name))
}

// WeatherTool is the tool offered in every tool scenario.
func WeatherTool() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        weatherToolName,
		Description: "Get weather",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`),
	}
}

func locationWeatherTool() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        weatherToolName,
		Description: "Get the current weather for a location",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"location":{"type":"string","description":"City name"}},"required":["location"]}`),
	}
}

// ToolResultConversation builds the user question, the assistant's tool
// invocation with toolCallID, and the successful tool result answering it.
func ToolResultConversation(toolCallID string) ([]domain.Turn, domain.ToolSchema) {
	turns := []domain.Turn{
		domain.UserText{Text: weatherQuestion},
		domain.AssistantToolUse{ToolCallID: toolCallID, ToolName: weatherToolName, Input: weatherInput},
		domain.UserToolResult{ToolCallID: toolCallID, Content: weatherResult, Status: domain.ToolResultSuccess},
	}
	return turns, WeatherTool()
}

// Build returns the conversation for scenario. toolCallID is ignored by
// scenarios without a tool result and defaults to DefaultToolCallID.
func Build(scenario Scenario, toolCallID string) (Conversation, error) {
	if toolCallID == "" {
		toolCallID = DefaultToolCallID
	}

	switch scenario {
	case ScenarioToolResult, "":
		turns, tool := ToolResultConversation(toolCallID)
		return Conversation{
			Scenario: ScenarioToolResult,
			Turns:    turns,
			Tools:    []domain.ToolSchema{tool},
			Expect:   domain.ExpectText,
		}, nil

	case ScenarioToolResultPreamble:
		turns, tool := ToolResultConversation(toolCallID)
		withPreamble := make([]domain.Turn, 0, len(turns)+1)
		withPreamble = append(withPreamble, turns[0], domain.AssistantText{Text: weatherPreamble})
		withPreamble = append(withPreamble, turns[1:]...)
		return Conversation{
			Scenario: scenario,
			Turns:    withPreamble,
			Tools:    []domain.ToolSchema{tool},
			Expect:   domain.ExpectText,
		}, nil

	case ScenarioBasicChat:
		return Conversation{
			Scenario: scenario,
			Turns:    []domain.Turn{domain.UserText{Text: basicQuestion}},
			Expect:   domain.ExpectText,
		}, nil

	case ScenarioToolCall:
		return Conversation{
			Scenario: scenario,
			Turns:    []domain.Turn{domain.UserText{Text: toolCallQuestion}},
			Tools:    []domain.ToolSchema{locationWeatherTool()},
			Expect:   domain.ExpectToolUse,
		}, nil
	}

	return Conversation{}, domain.NewDomainError("Fixture.Build", domain.ErrInvalidFixture,
		fmt.Sprintf("unknown scenario %q", scenario))
}
