package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPassed(t *testing.T) {
	assert.True(t, StatusOK.Passed())
	assert.False(t, StatusEmpty.Passed())
	assert.False(t, StatusTimeout.Passed())
	assert.False(t, StatusError.Passed())
}

func TestBatchSummaryAdd(t *testing.T) {
	var b BatchSummary
	b.Add(TrialResult{Status: StatusOK})
	b.Add(TrialResult{Status: StatusTimeout})
	b.Add(TrialResult{Status: StatusEmpty})
	b.Add(TrialResult{Status: StatusOK})

	assert.Equal(t, 2, b.Passed)
	assert.Equal(t, 2, b.Failed)
	assert.Equal(t, 4, b.Total())
	assert.Equal(t, 1, b.Count(StatusTimeout))
	assert.Equal(t, 0, b.Count(StatusError))
	assert.Equal(t, StatusEmpty, b.Trials[2].Status)
}

func TestTurnRoles(t *testing.T) {
	turns := []Turn{
		UserText{Text: "q"},
		AssistantText{Text: "a"},
		AssistantToolUse{ToolCallID: "id"},
		UserToolResult{ToolCallID: "id"},
	}
	want := []string{RoleUser, RoleAssistant, RoleAssistant, RoleUser}
	for i, turn := range turns {
		assert.Equal(t, want[i], turn.Role(), "turn %d", i)
	}
}
