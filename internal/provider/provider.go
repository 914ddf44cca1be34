// Package provider adapts language model backends to the streaming contract
// used by sessions.
package provider

import (
	"context"
	"iter"

	"github.com/vinayprograms/crew/internal/model"
)

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is one model invocation.
type Request struct {
	Query        model.Turn
	SystemPrompt string
	History      []model.Turn
	Tools        []ToolSchema
}

// LLM streams the model's reply as incremental text deltas, in emission
// order. A failure is reported as the final element with a non-nil error.
type LLM interface {
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Func adapts a plain function to the LLM interface.
type Func func(ctx context.Context, req Request) iter.Seq2[string, error]

func (f Func) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return f(ctx, req)
}

// Collect drains a stream into its full text.
func Collect(ctx context.Context, l LLM, req Request) (string, error) {
	var text string
	for delta, err := range l.Stream(ctx, req) {
		if err != nil {
			return text, err
		}
		text += delta
	}
	return text, nil
}
