// Package model defines the records shared by sessions, tasks and teams.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// RoleUser is the role recorded for prompts sent to an agent.
const RoleUser = "User"

// Turn types.
const (
	TurnText  = "text"
	TurnImage = "image"
)

// Turn is one entry in a session transcript.
type Turn struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"` // base64 or URL when Type is image
}

// IsUser reports whether the turn was sent to the agent rather than produced by it.
func (t Turn) IsUser() bool {
	return t.Role == RoleUser
}

// ProviderSpec selects the LLM an agent is bound to.
type ProviderSpec struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Profile     string  `json:"profile,omitempty" yaml:"profile,omitempty"` // named profile from config
	// Temperature is recorded and carried across reloads. agentkit
	// providers take no sampling temperature, so it is not sent.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// Agent pairs an LLM binding with a system prompt and a tool set.
type Agent struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	SystemPrompt string       `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	LLM          ProviderSpec `json:"llm" yaml:"llm"`
	Tools        []string     `json:"tools,omitempty" yaml:"tools,omitempty"`
	SubAgentIDs  []string     `json:"sub_agent_ids,omitempty" yaml:"sub_agents,omitempty"`
	ParentID     string       `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	IsSubAgent   bool         `json:"is_sub_agent,omitempty" yaml:"is_sub_agent,omitempty"`
	CreatedAt    time.Time    `json:"created_at" yaml:"-"`
}

func (a *Agent) GetID() string   { return a.ID }
func (a *Agent) SetID(id string) { a.ID = id }

// AddSubAgent links a child agent by ID. Duplicates are ignored.
func (a *Agent) AddSubAgent(id string) {
	for _, existing := range a.SubAgentIDs {
		if existing == id {
			return
		}
	}
	a.SubAgentIDs = append(a.SubAgentIDs, id)
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid task status transition")

// Step is a single natural-language instruction within a task.
type Step struct {
	Step string `json:"step"`
	Done bool   `json:"done"`
}

// StepInstructions maps a zero-based index to its step.
type StepInstructions map[int]Step

// Order returns the step indices in ascending order.
func (s StepInstructions) Order() []int {
	idx := make([]int, 0, len(s))
	for i := range s {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// Pending counts steps not yet attempted.
func (s StepInstructions) Pending() int {
	n := 0
	for _, st := range s {
		if !st.Done {
			n++
		}
	}
	return n
}

// MarkDone flags the step at index i as attempted.
func (s StepInstructions) MarkDone(i int) {
	if st, ok := s[i]; ok {
		st.Done = true
		s[i] = st
	}
}

// Task is a unit of work assigned to one or more agents.
type Task struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	StepInstructions StepInstructions `json:"step_instructions"`
	Status           TaskStatus       `json:"status"`
	AssignedAgents   []string         `json:"assigned_agents"`
	Results          []string         `json:"results"`
	TeamID           string           `json:"team_id,omitempty"`
	PID              string           `json:"pid,omitempty"` // background job ID
	CreatedAt        time.Time        `json:"created_at"`
	StartedAt        *time.Time       `json:"started_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

func (t *Task) GetID() string   { return t.ID }
func (t *Task) SetID(id string) { t.ID = id }

// Transition moves the task to a new status.
// Completed is terminal; InProgress may roll back to Pending.
func (t *Task) Transition(to TaskStatus) error {
	from := t.Status
	if from == "" {
		from = StatusPending
	}
	if from == to {
		t.Status = to
		return nil
	}

	switch {
	case from == StatusPending && to == StatusInProgress:
		now := time.Now()
		t.StartedAt = &now
	case from == StatusInProgress && to == StatusCompleted:
		now := time.Now()
		t.CompletedAt = &now
	case from == StatusInProgress && to == StatusPending:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.Status = to
	return nil
}

// Team is a group of agents coordinated by a leader.
type Team struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Description    string    `json:"description,omitempty" yaml:"description,omitempty"`
	AssignedAgents []string  `json:"assigned_agents" yaml:"agents"`
	LeaderID       string    `json:"leader_id,omitempty" yaml:"leader,omitempty"`
	TaskIDs        []string  `json:"task_ids,omitempty" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
}

func (t *Team) GetID() string   { return t.ID }
func (t *Team) SetID(id string) { t.ID = id }

// ErrLeaderNotMember is returned when the leader is not one of the team's agents.
var ErrLeaderNotMember = errors.New("the leader must be a member of the team")

// IsMember reports whether the agent belongs to the team.
func (t *Team) IsMember(agentID string) bool {
	for _, id := range t.AssignedAgents {
		if id == agentID {
			return true
		}
	}
	return false
}

// AddAgent adds an agent to the team.
func (t *Team) AddAgent(agentID string) {
	if !t.IsMember(agentID) {
		t.AssignedAgents = append(t.AssignedAgents, agentID)
	}
}

// RemoveAgent removes an agent. Removing the leader clears the leader.
func (t *Team) RemoveAgent(agentID string) {
	kept := t.AssignedAgents[:0]
	for _, id := range t.AssignedAgents {
		if id != agentID {
			kept = append(kept, id)
		}
	}
	t.AssignedAgents = kept
	if t.LeaderID == agentID {
		t.LeaderID = ""
	}
}

// SetLeader assigns the team leader.
func (t *Team) SetLeader(agentID string) error {
	if !t.IsMember(agentID) {
		return ErrLeaderNotMember
	}
	t.LeaderID = agentID
	return nil
}

// AddTask links a task to the team.
func (t *Team) AddTask(taskID string) {
	for _, id := range t.TaskIDs {
		if id == taskID {
			return
		}
	}
	t.TaskIDs = append(t.TaskIDs, taskID)
}

// Responsibility is one agent's share of a workflow step.
type Responsibility struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

// WorkflowStep is one leader-planned unit of work. It is never persisted.
type WorkflowStep struct {
	Step             string           `json:"step"`
	Responsibilities []Responsibility `json:"responsibilities"`
	EstimatedTime    string           `json:"estimated_time"`
}
