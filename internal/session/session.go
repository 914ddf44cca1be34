// Package session provides conversation sessions: the persisted transcript
// record and the turn loop that drives an agent through tool calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/store"
)

// Session is one agent's transcript, optionally scoped to a task or team.
type Session struct {
	ID          string       `json:"id"`
	Chat        []model.Turn `json:"chat"`
	AgentID     string       `json:"agent_id"`
	TaskID      string       `json:"task_id"`
	TeamID      string       `json:"team_id"`
	PID         string       `json:"pid,omitempty"` // set when backing a background run
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (s *Session) GetID() string   { return s.ID }
func (s *Session) SetID(id string) { s.ID = id }

// Append adds turns to the transcript.
func (s *Session) Append(turns ...model.Turn) {
	s.Chat = append(s.Chat, turns...)
	s.UpdatedAt = time.Now()
}

// Last returns the most recent turn, if any.
func (s *Session) Last() (model.Turn, bool) {
	if len(s.Chat) == 0 {
		return model.Turn{}, false
	}
	return s.Chat[len(s.Chat)-1], true
}

// History returns a copy of the transcript.
func (s *Session) History() []model.Turn {
	return append([]model.Turn(nil), s.Chat...)
}

// Manager looks up and persists sessions.
type Manager struct {
	store store.Store[*Session]
	mu    sync.Mutex
}

// NewManager creates a new session manager.
func NewManager(s store.Store[*Session]) *Manager {
	return &Manager{store: s}
}

// Load returns the session with id, creating an empty one when absent.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m.create(ctx, &Session{ID: id})
}

// Get returns an existing session.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// ForAgent returns the agent's default session (no task, no team),
// creating it on first use.
func (m *Manager) ForAgent(ctx context.Context, agentID string) (*Session, error) {
	return m.findOrCreate(ctx, store.Filter{"agent_id": agentID, "task_id": "", "team_id": ""},
		&Session{AgentID: agentID})
}

// ForTask returns the session scoped to (task, agent), creating it on
// first use.
func (m *Manager) ForTask(ctx context.Context, taskID, agentID, teamID string) (*Session, error) {
	return m.findOrCreate(ctx, store.Filter{"task_id": taskID, "agent_id": agentID},
		&Session{TaskID: taskID, AgentID: agentID, TeamID: teamID})
}

// ByTask returns every session of a task.
func (m *Manager) ByTask(ctx context.Context, taskID string) ([]*Session, error) {
	return m.store.Find(ctx, store.Filter{"task_id": taskID})
}

// ByPID returns the session backing a background run.
func (m *Manager) ByPID(ctx context.Context, pid string) (*Session, error) {
	return m.store.FindOne(ctx, store.Filter{"pid": pid})
}

// Save persists the session.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	if _, err := m.store.Save(ctx, sess); err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

func (m *Manager) findOrCreate(ctx context.Context, f store.Filter, fresh *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.FindOne(ctx, f)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return m.create(ctx, fresh)
}

func (m *Manager) create(ctx context.Context, sess *Session) (*Session, error) {
	now := time.Now()
	sess.Chat = []model.Turn{}
	sess.CreatedAt = now
	sess.UpdatedAt = now
	if _, err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}
