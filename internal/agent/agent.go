// Package agent binds agent records to their model, tools and sub-agents.
package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
	"github.com/vinayprograms/crew/internal/reply"
	"github.com/vinayprograms/crew/internal/tools"
)

// Agent is a runnable agent: record, model binding, tool set and sub-agents.
type Agent struct {
	Record *model.Agent

	mu        sync.RWMutex
	llm       *provider.Binding
	tools     *tools.Registry
	subAgents []*Agent

	loader     *Loader
	dispatcher *tools.Dispatcher
	now        func() time.Time
}

// ID returns the record ID.
func (a *Agent) ID() string { return a.Record.ID }

// Name returns the record name.
func (a *Agent) Name() string { return a.Record.Name }

// LLM returns the current model binding.
func (a *Agent) LLM() *provider.Binding {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.llm
}

// Tools returns the agent's tool set.
func (a *Agent) Tools() *tools.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tools
}

// SubAgents returns the attached sub-agents.
func (a *Agent) SubAgents() []*Agent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*Agent(nil), a.subAgents...)
}

// AddSubAgent attaches sub to this agent for the lifetime of the runtime
// value. Use Loader.Adopt to persist the link.
func (a *Agent) AddSubAgent(sub *Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.subAgents {
		if existing == sub || (sub.ID() != "" && existing.ID() == sub.ID()) {
			return
		}
		// unsaved agents (evaluators) are replaced by name
		if sub.ID() == "" && existing.ID() == "" && existing.Name() == sub.Name() {
			a.subAgents[i] = sub
			return
		}
	}
	a.subAgents = append(a.subAgents, sub)
	if sub.ID() != "" {
		a.Record.AddSubAgent(sub.ID())
	}
}

// Derive creates an unsaved agent sharing this agent's model binding.
func (a *Agent) Derive(name, systemPrompt string) *Agent {
	rec := &model.Agent{
		Name:         name,
		SystemPrompt: systemPrompt,
		LLM:          a.Record.LLM,
		ParentID:     a.Record.ID,
		IsSubAgent:   true,
		CreatedAt:    a.clock(),
	}
	return &Agent{
		Record:     rec,
		llm:        a.LLM(),
		tools:      tools.NewRegistry(),
		loader:     a.loader,
		dispatcher: a.dispatcher,
		now:        a.now,
	}
}

// Reload rebuilds the model binding from the same spec, keeping its
// temperature.
func (a *Agent) Reload() error {
	if a.loader == nil || a.loader.providers == nil {
		return nil
	}
	current := a.LLM()
	spec := a.Record.LLM
	if current != nil {
		spec = current.Spec
	}
	b, err := a.loader.providers.Load(spec)
	if err != nil {
		return fmt.Errorf("reloading LLM for agent %s: %w", a.Name(), err)
	}
	a.mu.Lock()
	a.llm = b
	a.mu.Unlock()
	return nil
}

// Stream sends query to the agent's model with its formatted system prompt,
// the given history and its tool schemas.
func (a *Agent) Stream(ctx context.Context, query model.Turn, history []model.Turn) iter.Seq2[string, error] {
	b := a.LLM()
	if b == nil {
		return func(yield func(string, error) bool) {
			yield("", fmt.Errorf("agent %s has no LLM bound", a.Name()))
		}
	}
	return b.Stream(ctx, provider.Request{
		Query:        query,
		SystemPrompt: a.SystemPrompt(),
		History:      history,
		Tools:        a.Tools().Schemas(),
	})
}

// CallTools dispatches calls against the agent's tool set.
func (a *Agent) CallTools(ctx context.Context, calls []reply.ToolCall) tools.Combined {
	d := a.dispatcher
	if d == nil {
		d = tools.NewDispatcher(0, nil)
	}
	return d.CallTools(ctx, a.Tools(), calls)
}

// NextTurn converts a combined tool result into the next message. An image
// payload turns the message into an image turn.
func (a *Agent) NextTurn(combined tools.Combined) model.Turn {
	turn := model.Turn{Role: model.RoleUser, Type: model.TurnText, Content: combined.Text()}
	for _, p := range combined.Payloads() {
		if p.Kind == tools.KindImage {
			turn.Type = model.TurnImage
			turn.Image = fmt.Sprint(p.Value)
			break
		}
	}
	return turn
}

// SystemPrompt formats the record's template.
func (a *Agent) SystemPrompt() string {
	template := a.Record.SystemPrompt
	if strings.TrimSpace(template) == "" {
		template = DefaultSystemPrompt
	}

	var available []string
	if a.loader != nil && a.loader.tools != nil {
		available = a.loader.tools.Names()
	}

	var subs []string
	for _, s := range a.SubAgents() {
		subs = append(subs, s.Name())
	}

	replacer := strings.NewReplacer(
		"{name}", a.Name(),
		"{tools}", listOrNone(a.Tools().Names()),
		"{subagents}", listOrNone(subs),
		"{available_tools}", listOrNone(available),
	)
	return fmt.Sprintf("Current date: %s\n\n%s", a.clock().Format("2006-01-02"), replacer.Replace(template))
}

func (a *Agent) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
