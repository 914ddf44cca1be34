package provider

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vinayprograms/agentkit/llm"

	"github.com/vinayprograms/crew/internal/model"
)

// mockChatProvider answers with a fixed response and records the last request.
type mockChatProvider struct {
	content   string
	toolCalls []llm.ToolCallResponse
	err       error
	last      llm.ChatRequest
}

func (m *mockChatProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.last = req
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Content: m.content, ToolCalls: m.toolCalls}, nil
}

func collectAll(t *testing.T, seq iter.Seq2[string, error]) ([]string, error) {
	t.Helper()
	var out []string
	for delta, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, delta)
	}
	return out, nil
}

func decodeDelta(t *testing.T, delta string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(delta), &doc), "delta must be one JSON object: %s", delta)
	return doc
}

func TestAgentkitYieldsReplyAsOneDelta(t *testing.T) {
	mock := &mockChatProvider{content: `{"result": "ok"}`}
	a := NewAgentkit(mock)

	got, err := collectAll(t, a.Stream(context.Background(), Request{
		Query:        model.Turn{Role: model.RoleUser, Content: "hi"},
		SystemPrompt: "be brief",
		History: []model.Turn{
			{Role: model.RoleUser, Content: "earlier"},
			{Role: "planner", Content: "answer"},
		},
		Tools: []ToolSchema{{Name: "calc", Description: "math"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"result": "ok"}`}, got)

	require.Len(t, mock.last.Messages, 4)
	assert.Equal(t, "system", mock.last.Messages[0].Role)
	assert.Equal(t, "user", mock.last.Messages[1].Role)
	assert.Equal(t, "assistant", mock.last.Messages[2].Role)
	assert.Equal(t, "user", mock.last.Messages[3].Role)
	require.Len(t, mock.last.Tools, 1)
	assert.Equal(t, "calc", mock.last.Tools[0].Name)
}

func TestAgentkitMergesNativeToolCallsIntoJSONReply(t *testing.T) {
	mock := &mockChatProvider{
		content: "```json\n{\"thought\": \"need math\", \"tool_calls\": [{\"name\": \"lookup\", \"arguments\": {}}]}\n```",
		toolCalls: []llm.ToolCallResponse{
			{ID: "1", Name: "calculator", Args: map[string]interface{}{"expr": "2+2"}},
		},
	}

	got, err := collectAll(t, NewAgentkit(mock).Stream(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	doc := decodeDelta(t, got[0])
	assert.Equal(t, "need math", doc["thought"])
	calls, ok := doc["tool_calls"].([]interface{})
	require.True(t, ok)
	require.Len(t, calls, 2)
	assert.Equal(t, "lookup", calls[0].(map[string]interface{})["name"])
	assert.Equal(t, map[string]interface{}{"name": "calculator", "arguments": map[string]interface{}{"expr": "2+2"}}, calls[1])
}

func TestAgentkitWrapsProseWithNativeToolCalls(t *testing.T) {
	mock := &mockChatProvider{
		content:   "Let me compute.",
		toolCalls: []llm.ToolCallResponse{{ID: "1", Name: "calculator"}},
	}

	got, err := collectAll(t, NewAgentkit(mock).Stream(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	doc := decodeDelta(t, got[0])
	assert.Equal(t, "Let me compute.", doc["result"])
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "calculator", "arguments": map[string]interface{}{}}}, doc["tool_calls"])

	mock.content = ""
	got, err = collectAll(t, NewAgentkit(mock).Stream(context.Background(), Request{}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotContains(t, decodeDelta(t, got[0]), "result")
}

func TestAgentkitReportsProviderError(t *testing.T) {
	mock := &mockChatProvider{err: errors.New("rate limited")}

	got, err := collectAll(t, NewAgentkit(mock).Stream(context.Background(), Request{}))
	assert.EqualError(t, err, "rate limited")
	assert.Empty(t, got)
}

func TestAgentkitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := collectAll(t, NewAgentkit(&mockChatProvider{content: "late"}).Stream(ctx, Request{}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}

func TestAgentkitEmptyReplyYieldsNothing(t *testing.T) {
	got, err := collectAll(t, NewAgentkit(&mockChatProvider{}).Stream(context.Background(), Request{}))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func hangingLLM() LLM {
	return Func(func(ctx context.Context, _ Request) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("start", nil) {
				return
			}
			<-ctx.Done()
			yield("", ctx.Err())
		}
	})
}

func TestWithTimeout(t *testing.T) {
	l := WithTimeout(hangingLLM(), 20*time.Millisecond)

	got, err := collectAll(t, l.Stream(context.Background(), Request{}))
	assert.Equal(t, []string{"start"}, got)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "request timed out")
}

func TestRegistryLoad(t *testing.T) {
	var seen []model.ProviderSpec
	stub := func(name string) Factory {
		return func(spec model.ProviderSpec) (LLM, error) {
			seen = append(seen, spec)
			return Func(func(context.Context, Request) iter.Seq2[string, error] {
				return func(yield func(string, error) bool) { yield(name, nil) }
			}), nil
		}
	}

	r := NewRegistry(time.Second)
	r.Register("Stub", stub("stub"))

	_, err := r.Load(model.ProviderSpec{Provider: "other"})
	assert.Error(t, err)

	r.SetFallback(stub("fallback"))

	b, err := r.Load(model.ProviderSpec{Provider: "stub", Temperature: 0.3})
	require.NoError(t, err)
	text, err := Collect(context.Background(), b, Request{})
	require.NoError(t, err)
	assert.Equal(t, "stub", text)
	assert.Equal(t, 0.3, b.Temperature())

	b, err = r.Load(model.ProviderSpec{Provider: "openai", Model: "gpt-4o"})
	require.NoError(t, err)
	text, err = Collect(context.Background(), b, Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", text)
	assert.Len(t, seen, 2)
}

func TestParseRetryConfig(t *testing.T) {
	cfg := parseRetryConfig(3, "30s")
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)

	cfg = parseRetryConfig(1, "bogus")
	assert.Zero(t, cfg.MaxBackoff)
}
