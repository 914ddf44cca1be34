package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/tools"
)

func TestTerminal_ChunksOnlyWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	newTerminal(&buf, false).Emit(session.Event{Kind: session.EventChunk, Agent: "Ada", Content: `{"result": `})
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}

	buf.Reset()
	term := newTerminal(&buf, true)
	term.Emit(session.Event{Kind: session.EventChunk, Agent: "Ada", Content: `{"result": `})
	term.Emit(session.Event{Kind: session.EventReply, Agent: "Ada", Content: "hello"})
	out := buf.String()
	if !strings.Contains(out, `{"result": `) {
		t.Errorf("expected raw delta, got %q", out)
	}
	// The reply starts on its own line after streamed deltas.
	if !strings.Contains(out, "\n") || strings.Index(out, "Ada:") < strings.Index(out, `{"result"`) {
		t.Errorf("unexpected layout: %q", out)
	}
}

func TestTerminal_ReplyIsWrappedAndIndented(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, false)
	term.width = 20
	term.Emit(session.Event{Kind: session.EventReply, Agent: "Ada", Content: "one two three four five six seven"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected wrapped output, got %q", buf.String())
	}
	if !strings.Contains(lines[0], "Ada:") {
		t.Errorf("expected speaker line, got %q", lines[0])
	}
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("expected indented line, got %q", line)
		}
	}
}

func TestTerminal_PayloadsAndNotices(t *testing.T) {
	var buf bytes.Buffer
	term := newTerminal(&buf, false)
	term.Emit(session.Event{Kind: session.EventPayload, Agent: "Ada", Payload: &tools.Payload{Kind: tools.KindAgent, Message: "created agent Bob"}})
	term.Emit(session.Event{Kind: session.EventNotice, Agent: "Ada", Content: "Sub-agent Bob registered"})

	out := buf.String()
	if !strings.Contains(out, "created agent Bob") {
		t.Errorf("expected payload message, got %q", out)
	}
	if strings.Contains(out, "registered") {
		t.Errorf("notices should be hidden unless verbose, got %q", out)
	}
}

func TestTerminal_Artifacts(t *testing.T) {
	var buf bytes.Buffer
	newTerminal(&buf, false).Emit(session.Event{
		Kind:      session.EventArtifacts,
		Agent:     "Ada",
		Artifacts: map[string]string{"file": "main.go"},
	})
	out := buf.String()
	if !strings.Contains(out, "artifacts from Ada") || !strings.Contains(out, `"file": "main.go"`) {
		t.Errorf("unexpected artifacts output: %q", out)
	}
}

func TestTerminal_Replay(t *testing.T) {
	sess := &session.Session{
		ID:      "s1",
		AgentID: "a1",
		Chat: []model.Turn{
			{Role: model.RoleUser, Type: model.TurnText, Content: "What is 2+2?"},
			{Role: "Ada", Type: model.TurnText, Content: `{"tool_calls": [{"name": "calculator", "arguments": {"expr": "2+2"}}]}`},
			{Role: model.RoleUser, Type: model.TurnText, Content: "Tool calls result: 4"},
			{Role: "Ada", Type: model.TurnText, Content: `{"result": "The answer is 4."}`},
		},
	}
	var buf bytes.Buffer
	newTerminal(&buf, false).replay(sess)
	out := buf.String()

	for _, want := range []string{"Session s1", "turns=4", "What is 2+2?", "→ Tool: calculator", "The answer is 4."} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in replay:\n%s", want, out)
		}
	}
	if strings.Contains(out, `"tool_calls"`) {
		t.Errorf("tool call documents should not be printed raw:\n%s", out)
	}
}
