package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrTimeout is reported when a stream exceeds its time limit.
var ErrTimeout = errors.New("request timed out")

type timeoutLLM struct {
	llm     LLM
	timeout time.Duration
}

// WithTimeout bounds every stream of l to d. A zero duration disables the limit.
func WithTimeout(l LLM, d time.Duration) LLM {
	if d <= 0 {
		return l
	}
	return &timeoutLLM{llm: l, timeout: d}
}

func (t *timeoutLLM) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		for delta, err := range t.llm.Stream(ctx, req) {
			if err != nil {
				yield("", t.wrap(ctx, err))
				return
			}
			if !yield(delta, nil) {
				return
			}
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			yield("", t.wrap(ctx, ctx.Err()))
		}
	}
}

func (t *timeoutLLM) wrap(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
	}
	return err
}
