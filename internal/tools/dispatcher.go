package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/reply"
)

// ResultType tags a combined tool result.
const ResultType = "tool_calls_result"

// CallResult is one slot of a combined result. Value holds the tool output,
// a Payload, or the error text when Failed is set.
type CallResult struct {
	Tool   string      `json:"tool"`
	Value  interface{} `json:"result"`
	Failed bool        `json:"failed,omitempty"`
}

// Combined merges every call result of one dispatch.
type Combined struct {
	Type   string       `json:"type"`
	Result []CallResult `json:"result"`
}

// Payloads returns the tagged results in call order.
func (c Combined) Payloads() []Payload {
	var out []Payload
	for _, r := range c.Result {
		if p, ok := r.Value.(Payload); ok {
			out = append(out, p)
		}
	}
	return out
}

// Text renders the result as the next message for the model. Payload
// values are replaced by their message.
func (c Combined) Text() string {
	values := make([]interface{}, 0, len(c.Result))
	for _, r := range c.Result {
		v := r.Value
		if p, ok := v.(Payload); ok {
			v = payloadText(p)
		}
		values = append(values, map[string]interface{}{"tool": r.Tool, "result": v})
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Sprintf("Tool calls result: %v", values)
	}
	return "Tool calls result: " + string(data)
}

func payloadText(p Payload) string {
	if p.Message != "" {
		return p.Message
	}
	return fmt.Sprintf("[%s result]", p.Kind)
}

// Dispatcher executes tool calls against a tool set.
type Dispatcher struct {
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewDispatcher creates a dispatcher. Each call is bounded by timeout
// (zero disables); m may be nil.
func NewDispatcher(timeout time.Duration, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		timeout: timeout,
		metrics: m,
		logger:  logging.New().WithComponent("dispatcher"),
	}
}

// CallTools runs calls in order against set. Unknown tools and tool
// failures become "Error: ..." slots; dispatch always continues.
func (d *Dispatcher) CallTools(ctx context.Context, set *Registry, calls []reply.ToolCall) Combined {
	combined := Combined{Type: ResultType, Result: make([]CallResult, 0, len(calls))}
	for _, call := range calls {
		combined.Result = append(combined.Result, d.call(ctx, set, call))
	}
	return combined
}

func (d *Dispatcher) call(ctx context.Context, set *Registry, call reply.ToolCall) CallResult {
	start := time.Now()

	ctx, span := telemetry.GetTracer().StartSpan(ctx, "tool."+call.Name)
	span.SetAttributes(attribute.String("tool.name", call.Name))
	defer span.End()

	tool := set.Get(call.Name)
	if tool == nil {
		err := fmt.Errorf("tool '%s' not found", call.Name)
		span.RecordError(err)
		d.logger.Warn("unknown tool requested", map[string]interface{}{"tool": call.Name})
		return CallResult{Tool: call.Name, Value: "Error: " + err.Error(), Failed: true}
	}

	value, err := d.invoke(ctx, tool, call.Arguments)
	duration := time.Since(start)
	d.logger.ToolResult(tool.Name(), duration, err)
	d.metrics.ObserveToolCall(tool.Name(), duration, err)

	if err != nil {
		span.RecordError(err)
		return CallResult{Tool: tool.Name(), Value: fmt.Sprintf("Error: %v", err), Failed: true}
	}
	if p, ok := value.(Payload); ok {
		span.SetAttributes(attribute.String("tool.payload", p.Kind))
	}
	return CallResult{Tool: tool.Name(), Value: value}
}

// invoke runs a tool under the call timeout. Async tools get a deadline on
// their context; sync tools run on their own goroutine and are abandoned
// when the deadline passes.
func (d *Dispatcher) invoke(ctx context.Context, tool Tool, args map[string]interface{}) (result interface{}, err error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()

	switch t := tool.(type) {
	case AsyncTool:
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		result, err = t.Arun(ctx, args)
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("timed out after %s", d.timeout)
		}
		return result, err
	case SyncTool:
		if d.timeout <= 0 {
			return t.Run(args)
		}
		return d.runSync(ctx, t, args)
	default:
		return nil, fmt.Errorf("tool %s has no run method", tool.Name())
	}
}

type syncOutcome struct {
	value interface{}
	err   error
}

func (d *Dispatcher) runSync(ctx context.Context, t SyncTool, args map[string]interface{}) (interface{}, error) {
	done := make(chan syncOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- syncOutcome{err: fmt.Errorf("tool %s panicked: %v", t.Name(), r)}
			}
		}()
		value, err := t.Run(args)
		done <- syncOutcome{value: value, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.value, out.err
	case <-timer.C:
		return nil, fmt.Errorf("timed out after %s", d.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Describe summarises calls for logs.
func Describe(calls []reply.ToolCall) string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}
