package reply

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(chunks ...string) (Reply, Reply) {
	acc := New()
	var last Reply
	for _, c := range chunks {
		last = acc.AddChunk(c)
	}
	return last, acc.Finalize()
}

func split(s string, n int) []string {
	if n <= 1 {
		return []string{s}
	}
	size := (len(s) + n - 1) / n
	var out []string
	for i := 0; i < len(s); i += size {
		end := i + size
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[i:end])
	}
	return out
}

func TestIdempotentUnderChunking(t *testing.T) {
	docs := []string{
		`{"thought": "need math", "tool_calls": [{"name": "calculator", "arguments": {"expr": "2+2"}}]}`,
		`{"observation": "done", "result": "4", "artifacts": [{"type": "code", "content": "x = 4"}]}`,
		"Plain prose answer with no document at all.",
		"```json\n{\"response\": \"fenced\"}\n```",
		`{"result": "unterminated`,
	}

	for _, doc := range docs {
		_, want := feed(doc)
		want = withoutChunk(want)
		for _, n := range []int{2, 3, 7, len(doc)} {
			last, got := feed(split(doc, n)...)
			assert.Equal(t, want, withoutChunk(got), "final parse for %q split %d", doc, n)
			if _, ok := Parse(doc); ok {
				assert.Equal(t, want, withoutChunk(last), "streamed parse for %q split %d", doc, n)
			}
		}
	}
}

func withoutChunk(r Reply) Reply {
	r.CurrentChunk = ""
	return r
}

func TestIndependentAccumulatorsAgree(t *testing.T) {
	doc := `{"tool_call": {"name": "search", "arguments": {"q": "go"}}, "thought": "look it up"}`
	_, a := feed(split(doc, 4)...)
	_, b := feed(split(doc, 9)...)
	assert.Equal(t, withoutChunk(a), withoutChunk(b))
}

func TestToolCallKeys(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []ToolCall
	}{
		{
			name: "tool_calls list",
			doc:  `{"tool_calls": [{"name": "a", "arguments": {"x": 1}}, {"name": "b", "arguments": {}}]}`,
			want: []ToolCall{{Name: "a", Arguments: map[string]interface{}{"x": float64(1)}}, {Name: "b", Arguments: map[string]interface{}{}}},
		},
		{
			name: "tool_call object",
			doc:  `{"tool_call": {"name": "a", "arguments": {"x": "y"}}}`,
			want: []ToolCall{{Name: "a", Arguments: map[string]interface{}{"x": "y"}}},
		},
		{
			name: "tool envelope",
			doc:  `{"tool_call": {"tool": [{"name": "a", "arguments": {}}, {"name": "b", "args": {"k": "v"}}]}}`,
			want: []ToolCall{{Name: "a", Arguments: map[string]interface{}{}}, {Name: "b", Arguments: map[string]interface{}{"k": "v"}}},
		},
		{
			name: "string arguments",
			doc:  `{"tool_calls": [{"name": "a", "arguments": "{\"n\": 2}"}]}`,
			want: []ToolCall{{Name: "a", Arguments: map[string]interface{}{"n": float64(2)}}},
		},
		{
			name: "nameless entries dropped",
			doc:  `{"tool_calls": [{"arguments": {}}, {"name": "  "}]}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Parse(tt.doc)
			require.True(t, ok)
			assert.Equal(t, tt.want, r.ToolCalls)
		})
	}
}

func TestToolCallsPreferredOverToolCall(t *testing.T) {
	r, ok := Parse(`{"tool_call": {"name": "old"}, "tool_calls": [{"name": "new"}]}`)
	require.True(t, ok)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "new", r.ToolCalls[0].Name)
}

func TestResultFallbacks(t *testing.T) {
	r, _ := Parse(`{"result": "final", "response": "ignored"}`)
	assert.Equal(t, "final", r.Result)

	r, _ = Parse(`{"response": "from response"}`)
	assert.Equal(t, "from response", r.Result)

	doc := `{"thought": "thinking only"}`
	r, _ = Parse(doc)
	assert.Equal(t, doc, r.Result)
	assert.Equal(t, "thinking only", r.Thought)

	r, _ = Parse(`{"result": {"answer": 42}}`)
	assert.Equal(t, `{"answer":42}`, r.Result)
}

func TestPartialDocumentKeepsLastGoodFields(t *testing.T) {
	acc := New()
	r := acc.AddChunk(`{"thought": "a", "tool_calls": [{"name": "calc"}]}`)
	require.Len(t, r.ToolCalls, 1)

	r = acc.AddChunk(`x}`)
	assert.Equal(t, "a", r.Thought)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "calc", r.ToolCalls[0].Name)
	assert.Equal(t, r.Text, r.Result)
	assert.Equal(t, "x}", r.CurrentChunk)
}

func TestMidStreamNeverPanics(t *testing.T) {
	acc := New()
	for _, c := range []string{"{", `"res`, `ult": [`, "}", "]]]", `\u00`, "\x00"} {
		assert.NotPanics(t, func() { acc.AddChunk(c) })
	}
	assert.NotPanics(t, func() { acc.Finalize() })
}

func TestProseAroundDocument(t *testing.T) {
	r, ok := Parse("Let me check.\n{\"tool_calls\": [{\"name\": \"search\", \"arguments\": {\"q\": \"x\"}}]}\n")
	require.True(t, ok)
	require.Len(t, r.ToolCalls, 1)
	assert.Equal(t, "search", r.ToolCalls[0].Name)
}

func TestFinalizeRepairsTruncatedDocument(t *testing.T) {
	acc := New()
	acc.AddChunk(`{"result": "partial ans`)
	acc.AddChunk(`wer`)
	r := acc.Finalize()
	assert.Equal(t, "partial answer", r.Result)
}

func TestFinalizeWithoutDocumentUsesRawText(t *testing.T) {
	acc := New()
	acc.AddChunk("hello ")
	r := acc.AddChunk("world")
	assert.Equal(t, "hello world", r.Result)

	r = acc.Finalize()
	assert.Equal(t, "hello world", r.Result)
	assert.Empty(t, r.ToolCalls)
}

func TestAuxiliaryAndExtraFields(t *testing.T) {
	r, ok := Parse(`{"observation": "o", "reflection": "r", "mindspace": "m", "type": "answer", "before": "b", "after": "a", "confidence": 0.9}`)
	require.True(t, ok)
	assert.Equal(t, "o", r.Observation)
	assert.Equal(t, "r", r.Reflection)
	assert.Equal(t, "m", r.Mindspace)
	assert.Equal(t, "answer", r.Type)
	assert.Equal(t, "b", r.Before)
	assert.Equal(t, "a", r.After)
	assert.Equal(t, 0.9, r.Extra["confidence"])
}

func TestHasArtifacts(t *testing.T) {
	assert.False(t, Reply{}.HasArtifacts())
	assert.False(t, Reply{Artifacts: []interface{}{}}.HasArtifacts())
	assert.False(t, Reply{Artifacts: ""}.HasArtifacts())
	assert.True(t, Reply{Artifacts: map[string]interface{}{"k": "v"}}.HasArtifacts())

	r, _ := Parse(`{"artifact": {"title": "doc"}}`)
	assert.True(t, r.HasArtifacts())
}
