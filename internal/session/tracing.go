package session

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/reply"
)

// startTurnSpan starts a span for one model turn.
func startTurnSpan(ctx context.Context, a *agent.Agent, sess *Session) (context.Context, trace.Span) {
	ctx, span := telemetry.GetTracer().StartSpan(ctx, "session.turn")
	span.SetAttributes(
		attribute.String("agent.name", a.Name()),
		attribute.String("session.id", sess.ID),
	)
	return ctx, span
}

// endTurnSpan ends the turn span with reply info.
func endTurnSpan(span trace.Span, r reply.Reply, err error) {
	span.SetAttributes(attribute.Int("turn.tool_calls", len(r.ToolCalls)))
	if telemetry.GetTracer().Debug() && r.Result != "" {
		span.SetAttributes(attribute.String("turn.result", truncate(r.Result, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
