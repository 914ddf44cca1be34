// Package providertest provides scripted models for tests.
package providertest

import (
	"context"
	"iter"
	"sync"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/provider"
)

// Responder returns the deltas to stream for a request.
type Responder func(req provider.Request) ([]string, error)

// Scripted is an LLM that answers from a Responder and records every
// request it receives.
type Scripted struct {
	mu       sync.Mutex
	respond  Responder
	requests []provider.Request
}

// New creates a scripted model.
func New(r Responder) *Scripted {
	return &Scripted{respond: r}
}

// Static answers every request with the same deltas.
func Static(deltas ...string) *Scripted {
	return New(func(provider.Request) ([]string, error) { return deltas, nil })
}

func (s *Scripted) Stream(ctx context.Context, req provider.Request) iter.Seq2[string, error] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	respond := s.respond
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		deltas, err := respond(req)
		for _, d := range deltas {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if !yield(d, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

// Requests returns the recorded requests in arrival order.
func (s *Scripted) Requests() []provider.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Request(nil), s.requests...)
}

// Queries returns the content of every recorded query.
func (s *Scripted) Queries() []string {
	var out []string
	for _, r := range s.Requests() {
		out = append(out, r.Query.Content)
	}
	return out
}

// Factory returns a provider factory that always binds s.
func (s *Scripted) Factory() provider.Factory {
	return func(model.ProviderSpec) (provider.LLM, error) { return s, nil }
}
