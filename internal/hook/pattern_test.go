package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchToolPattern_Exact(t *testing.T) {
	assert.True(t, MatchToolPattern("bash", "bash"))
	assert.False(t, MatchToolPattern("bash", "write"))
}

func TestMatchToolPattern_GlobalWildcard(t *testing.T) {
	assert.True(t, MatchToolPattern("*", "bash"))
	assert.True(t, MatchToolPattern("*", "anything"))
}

func TestMatchToolPattern_PrefixGlob(t *testing.T) {
	assert.True(t, MatchToolPattern("sub_*", "sub_agent_code_reviewer"))
	assert.False(t, MatchToolPattern("sub_*", "bash"))
}

func TestMatchToolPattern_InvalidPattern(t *testing.T) {
	assert.False(t, MatchToolPattern("[", "bash"))
}
