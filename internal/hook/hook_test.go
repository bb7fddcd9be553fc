package hook

import (
	"context"
	"testing"

	"github.com/forgesmith/buildrunner/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_RunPre_FirstDenyWins(t *testing.T) {
	p := New()
	var secondRan bool

	p.RegisterPre("always-deny", "*", func(ctx context.Context, call Call) (*policy.Decision, error) {
		return &policy.Decision{Allow: false, Reason: policy.ReasonShellDenylist, Detail: "nope"}, nil
	})
	p.RegisterPre("records-if-run", "*", func(ctx context.Context, call Call) (*policy.Decision, error) {
		secondRan = true
		return nil, nil
	})

	decision := p.RunPre(context.Background(), Call{ToolName: "bash"})
	require.NotNil(t, decision)
	assert.False(t, decision.Allow)
	assert.False(t, secondRan, "a deny from an earlier pre-hook must stop the remaining pre-hooks from running")
}

func TestPipeline_RunPre_PatternFiltering(t *testing.T) {
	p := New()
	var ran bool
	p.RegisterPre("write-only", "write", func(ctx context.Context, call Call) (*policy.Decision, error) {
		ran = true
		return nil, nil
	})

	p.RunPre(context.Background(), Call{ToolName: "bash"})
	assert.False(t, ran)

	p.RunPre(context.Background(), Call{ToolName: "write"})
	assert.True(t, ran)
}

func TestPipeline_RunPre_PanicIsolated(t *testing.T) {
	p := New()
	p.RegisterPre("panics", "*", func(ctx context.Context, call Call) (*policy.Decision, error) {
		panic("boom")
	})
	var ran bool
	p.RegisterPre("after", "*", func(ctx context.Context, call Call) (*policy.Decision, error) {
		ran = true
		return nil, nil
	})

	decision := p.RunPre(context.Background(), Call{ToolName: "bash"})
	assert.Nil(t, decision)
	assert.True(t, ran, "a panicking hook must not abort the rest of the pipeline")
}

func TestPipeline_RunPost_MergesEffects(t *testing.T) {
	p := New()
	p.RegisterPost("msg-one", "*", func(ctx context.Context, call Call) (*Effects, error) {
		return &Effects{Messages: []SystemMessage{{Source: "one", Content: "a"}}}, nil
	})
	p.RegisterPost("msg-two", "*", func(ctx context.Context, call Call) (*Effects, error) {
		return &Effects{Messages: []SystemMessage{{Source: "two", Content: "b"}}, AdvancePlanning: true}, nil
	})

	eff := p.RunPost(context.Background(), Call{ToolName: "bash"})
	require.Len(t, eff.Messages, 2)
	assert.True(t, eff.AdvancePlanning)
}

func TestPipeline_RunPost_ErrorIsolated(t *testing.T) {
	p := New()
	p.RegisterPost("errors", "*", func(ctx context.Context, call Call) (*Effects, error) {
		return nil, assertError{}
	})
	p.RegisterPost("fine", "*", func(ctx context.Context, call Call) (*Effects, error) {
		return &Effects{AdvancePlanning: true}, nil
	})

	eff := p.RunPost(context.Background(), Call{ToolName: "bash"})
	assert.True(t, eff.AdvancePlanning)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
