package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/reply"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/tools"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - deltas, artifacts

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")) // White bold - speaker

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")) // Blue

	subagentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13")) // Magenta - created agents and teams

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")) // Green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")) // Red

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")) // Yellow - notices

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)
)

const wrapWidth = 100

// terminal renders conversation events for a human. Raw deltas are only
// shown when verbose.
type terminal struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
	width   int
	inChunk bool
}

func newTerminal(w io.Writer, verbose bool) *terminal {
	return &terminal{w: w, verbose: verbose, width: wrapWidth}
}

func (t *terminal) Emit(e session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e.Kind == session.EventChunk {
		if t.verbose {
			fmt.Fprint(t.w, dimStyle.Render(e.Content))
			t.inChunk = true
		}
		return
	}
	if t.inChunk {
		fmt.Fprintln(t.w)
		t.inChunk = false
	}

	switch e.Kind {
	case session.EventReply:
		style := agentStyle
		if strings.HasPrefix(e.Content, "Error: ") {
			style = errorStyle
		}
		fmt.Fprintln(t.w, style.Render(e.Agent+":"))
		fmt.Fprintln(t.w, t.block(e.Content))
	case session.EventArtifacts:
		data, err := json.MarshalIndent(e.Artifacts, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprint(e.Artifacts))
		}
		fmt.Fprintln(t.w, dimStyle.Render(fmt.Sprintf("── artifacts from %s ──", e.Agent)))
		fmt.Fprintln(t.w, dimStyle.Render(indent.String(string(data), 2)))
	case session.EventPayload:
		fmt.Fprintln(t.w, t.payload(e.Agent, e.Payload))
	case session.EventNotice:
		if t.verbose {
			fmt.Fprintln(t.w, warnStyle.Render("  ! "+e.Content))
		}
	}
}

func (t *terminal) payload(agent string, p *tools.Payload) string {
	if p == nil {
		return ""
	}
	switch p.Kind {
	case tools.KindAgent, tools.KindTeam:
		return subagentStyle.Render(fmt.Sprintf("  ⊕ [%s] %s", agent, p.Message))
	default:
		return toolStyle.Render(fmt.Sprintf("  → [%s] %s payload: %s", agent, p.Kind, p.Message))
	}
}

// block wraps text and indents it under the speaker line.
func (t *terminal) block(text string) string {
	return indent.String(wordwrap.String(strings.TrimSpace(text), t.width-2), 2)
}

// replay renders a stored transcript. Agent turns are shown by their
// parsed result, with requested tools listed above it.
func (t *terminal) replay(sess *session.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, "%s %s\n", agentStyle.Render("Session "+sess.ID),
		dimStyle.Render(fmt.Sprintf("agent=%s task=%s team=%s turns=%d", sess.AgentID, sess.TaskID, sess.TeamID, len(sess.Chat))))

	for i, turn := range sess.Chat {
		seq := seqStyle.Render(fmt.Sprintf("%d", i+1))
		if turn.Type == model.TurnImage {
			fmt.Fprintf(t.w, "%s %s\n", seq, dimStyle.Render(fmt.Sprintf("▶ %s [image]", turn.Role)))
			continue
		}
		if turn.IsUser() {
			fmt.Fprintf(t.w, "%s %s\n", seq, dimStyle.Render("▶ "+turn.Role))
			fmt.Fprintln(t.w, dimStyle.Render(t.block(turn.Content)))
			continue
		}

		fmt.Fprintf(t.w, "%s %s\n", seq, agentStyle.Render(turn.Role))
		text := turn.Content
		if r, ok := reply.Parse(turn.Content); ok {
			for _, call := range r.ToolCalls {
				fmt.Fprintln(t.w, toolStyle.Render("  → Tool: "+call.Name))
			}
			text = r.Result
			if len(r.ToolCalls) > 0 && text == turn.Content {
				continue
			}
		}
		if strings.HasPrefix(text, "Error: ") {
			fmt.Fprintln(t.w, errorStyle.Render(t.block(text)))
			continue
		}
		fmt.Fprintln(t.w, t.block(text))
	}
}

// status prints a one-line outcome.
func (t *terminal) status(ok bool, format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	style, mark := successStyle, "✓"
	if !ok {
		style, mark = errorStyle, "✗"
	}
	fmt.Fprintln(t.w, style.Render(mark+" "+fmt.Sprintf(format, args...)))
}
