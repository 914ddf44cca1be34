// Package checkpoint records the decision trail of team task runs: the
// leader's plan, every review verdict and the final evaluation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/crew/internal/model"
)

// Phase represents the workflow phase a record belongs to.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseReview   Phase = "review"
	PhaseEvaluate Phase = "evaluate"
)

// Plan is recorded when the leader's workflow has been parsed.
type Plan struct {
	Raw       string               `json:"raw"`
	Steps     []model.WorkflowStep `json:"steps"`
	Timestamp time.Time            `json:"timestamp"`
}

// Review is one leader verdict on a contribution.
type Review struct {
	Step           string    `json:"step"`
	Agent          string    `json:"agent"`
	Responsibility string    `json:"responsibility"`
	Round          int       `json:"round"`
	Feedback       string    `json:"feedback"`
	Action         string    `json:"action"`          // improve, revise, continue, done or what the leader wrote
	Recognized     bool      `json:"recognized"`      // false when the action was missing or unknown
	Revision       string    `json:"revision,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Evaluation is recorded after the leader's final summary.
type Evaluation struct {
	Summary   string    `json:"summary"`
	Missing   bool      `json:"missing"` // no evaluation was received
	Timestamp time.Time `json:"timestamp"`
}

// Checkpoint is the trail of one team task.
type Checkpoint struct {
	TaskID     string      `json:"task_id"`
	TeamID     string      `json:"team_id,omitempty"`
	Plan       *Plan       `json:"plan,omitempty"`
	Reviews    []*Review   `json:"reviews,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// Store manages checkpoints, one JSON file per task.
type Store struct {
	dir         string
	checkpoints map[string]*Checkpoint
	mu          sync.RWMutex
}

// NewStore creates a new checkpoint store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{
		dir:         dir,
		checkpoints: make(map[string]*Checkpoint),
	}, nil
}

// SavePlan starts a fresh trail for the task with its plan.
func (s *Store) SavePlan(taskID, teamID string, p *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[taskID] = &Checkpoint{TaskID: taskID, TeamID: teamID, Plan: p}
	return s.flush(taskID)
}

// SaveReview appends a review verdict.
func (s *Store) SaveReview(taskID string, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := s.entry(taskID)
	cp.Reviews = append(cp.Reviews, r)
	return s.flush(taskID)
}

// SaveEvaluation records the final evaluation.
func (s *Store) SaveEvaluation(taskID string, e *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(taskID).Evaluation = e
	return s.flush(taskID)
}

// Get retrieves a checkpoint by task ID.
func (s *Store) Get(taskID string) *Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[taskID]
}

// GetDecisionTrail returns all checkpoints ordered by task ID.
func (s *Store) GetDecisionTrail() []*Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trail := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		trail = append(trail, cp)
	}
	sort.Slice(trail, func(i, j int) bool { return trail[i].TaskID < trail[j].TaskID })
	return trail
}

func (s *Store) entry(taskID string) *Checkpoint {
	cp, ok := s.checkpoints[taskID]
	if !ok {
		cp = &Checkpoint{TaskID: taskID}
		s.checkpoints[taskID] = cp
	}
	return cp
}

// flush writes a checkpoint to disk.
func (s *Store) flush(taskID string) error {
	cp := s.checkpoints[taskID]
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%s.json", taskID))
	return os.WriteFile(path, data, 0644)
}

// Load loads checkpoints from disk.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		if cp.TaskID == "" {
			cp.TaskID = entry.Name()[:len(entry.Name())-len(".json")]
		}
		s.checkpoints[cp.TaskID] = &cp
	}

	return nil
}
