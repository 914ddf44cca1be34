// Package store provides persistence for agent, task, team and session records.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no record matches.
var ErrNotFound = errors.New("record not found")

// Record is anything with a string identity.
type Record interface {
	GetID() string
	SetID(id string)
}

// Filter selects records by top-level JSON field. All pairs must match.
type Filter map[string]interface{}

// Store is the persistence contract shared by every record kind.
type Store[T Record] interface {
	// Save inserts or replaces the record, assigning an ID when empty.
	Save(ctx context.Context, rec T) (string, error)
	Get(ctx context.Context, id string) (T, error)
	Find(ctx context.Context, f Filter) ([]T, error)
	FindOne(ctx context.Context, f Filter) (T, error)
	Delete(ctx context.Context, id string) error
	All(ctx context.Context) ([]T, error)
}

func ensureID(rec Record) string {
	if rec.GetID() == "" {
		rec.SetID(uuid.NewString())
	}
	return rec.GetID()
}

// matches reports whether the encoded document satisfies the filter.
// Values are compared by their JSON encoding.
func matches(doc []byte, f Filter) bool {
	if len(f) == 0 {
		return true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	for key, want := range f {
		got, ok := fields[key]
		if !ok {
			return false
		}
		wantJSON, err := json.Marshal(want)
		if err != nil {
			return false
		}
		if !jsonEqual(got, wantJSON) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b []byte) bool {
	var va, vb interface{}
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ea, _ := json.Marshal(va)
	eb, _ := json.Marshal(vb)
	return string(ea) == string(eb)
}
