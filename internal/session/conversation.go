package session

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/logging"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/reply"
	"github.com/vinayprograms/crew/internal/tools"
)

// Options controls one Run.
type Options struct {
	Stream      bool   // forward each delta as it arrives
	Output      Output // nil discards events
	SkipHistory bool   // do not append or persist turns
}

// Conversation drives agents through turns: stream, parse, dispatch tool
// calls, feed results back, persist.
type Conversation struct {
	sessions *Manager
	loader   *agent.Loader
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewConversation creates a conversation driver. loader registers agents
// and teams produced by creation tools and may be nil; m may be nil.
func NewConversation(sessions *Manager, loader *agent.Loader, m *metrics.Metrics) *Conversation {
	return &Conversation{
		sessions: sessions,
		loader:   loader,
		metrics:  m,
		logger:   logging.New().WithComponent("session"),
	}
}

// Sessions returns the session manager.
func (c *Conversation) Sessions() *Manager { return c.sessions }

// Run sends a text message to a and loops until the model stops asking
// for tools. It returns the reply of the last turn.
func (c *Conversation) Run(ctx context.Context, sess *Session, a *agent.Agent, message string, opts Options) reply.Reply {
	return c.RunTurn(ctx, sess, a, model.Turn{Role: model.RoleUser, Type: model.TurnText, Content: message}, opts)
}

// RunTurn is Run for a prepared turn (e.g. an image turn).
func (c *Conversation) RunTurn(ctx context.Context, sess *Session, a *agent.Agent, message model.Turn, opts Options) reply.Reply {
	out := opts.Output
	if out == nil {
		out = Discard
	}

	var last reply.Reply
	next := &message
	for next != nil {
		query := *next
		next = nil

		r, combined, err := c.turn(ctx, sess, a, query, out, opts.Stream)
		if err != nil {
			c.logger.Error("turn failed", map[string]interface{}{
				"agent": a.Name(), "session": sess.ID, "error": err.Error(),
			})
			r = errorReply(err)
			out.Emit(Event{Kind: EventReply, Agent: a.Name(), Content: r.Result})
		}
		if combined != nil {
			turn := a.NextTurn(*combined)
			next = &turn
		}
		last = r

		if !opts.SkipHistory {
			sess.Append(query, model.Turn{Role: a.Name(), Type: model.TurnText, Content: r.Text})
			if err := c.sessions.Save(ctx, sess); err != nil {
				c.logger.Error("failed to persist session", map[string]interface{}{
					"session": sess.ID, "error": err.Error(),
				})
			}
		}

		if ctx.Err() != nil {
			break
		}
	}
	return last
}

// turn streams one model response. combined is non-nil when the response
// requested tools; they are dispatched at most once per turn. A stream
// error after dispatch still returns combined so the results reach the model.
func (c *Conversation) turn(ctx context.Context, sess *Session, a *agent.Agent, query model.Turn, out Output, stream bool) (r reply.Reply, combined *tools.Combined, err error) {
	start := time.Now()
	ctx, span := startTurnSpan(ctx, a, sess)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("turn panicked: %v", p)
		}
		c.metrics.ObserveTurn(a.Name(), time.Since(start), err)
		endTurnSpan(span, r, err)
	}()

	acc := reply.New()
	calledTools := false
	dispatch := func(r reply.Reply) {
		if calledTools || len(r.ToolCalls) == 0 {
			return
		}
		calledTools = true
		c.logger.Debug("dispatching tool calls", map[string]interface{}{
			"agent": a.Name(), "tools": tools.Describe(r.ToolCalls),
		})
		result := a.CallTools(ctx, r.ToolCalls)
		c.handlePayloads(ctx, a, result, out)
		combined = &result
	}

	for delta, serr := range a.Stream(ctx, query, sess.History()) {
		if serr != nil {
			return acc.Reply(), combined, serr
		}
		r = acc.AddChunk(delta)
		if stream && delta != "" {
			out.Emit(Event{Kind: EventChunk, Agent: a.Name(), Content: r.CurrentChunk})
		}
		dispatch(r)
	}

	r = acc.Finalize()
	dispatch(r)

	if r.HasArtifacts() {
		out.Emit(Event{Kind: EventArtifacts, Agent: a.Name(), Artifacts: r.Artifacts})
	}
	if !stream || combined == nil {
		out.Emit(Event{Kind: EventReply, Agent: a.Name(), Content: r.Result})
	}
	return r, combined, nil
}

func (c *Conversation) handlePayloads(ctx context.Context, a *agent.Agent, result tools.Combined, out Output) {
	payloads := result.Payloads()
	for i := range payloads {
		out.Emit(Event{Kind: EventPayload, Agent: a.Name(), Payload: &payloads[i]})
	}
	if c.loader == nil || len(payloads) == 0 {
		return
	}
	for _, note := range c.loader.HandlePayloads(ctx, a, payloads) {
		out.Emit(Event{Kind: EventNotice, Agent: a.Name(), Content: note})
	}
}

func errorReply(err error) reply.Reply {
	text := "Error: " + err.Error()
	return reply.Reply{Text: text, Result: text}
}
