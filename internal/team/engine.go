// Package team runs tasks with a team of agents: the leader plans a
// workflow, members contribute in turn under leader review, and the leader
// evaluates and summarizes the result.
package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/checkpoint"
	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
)

var (
	// ErrPrecondition marks failures that make further progress on a task
	// meaningless. The task is returned to pending.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNoLeader is returned when the team has no usable leader.
	ErrNoLeader = errors.New("no team leader assigned")
)

// DefaultMaxRevisions bounds review rounds per responsibility.
const DefaultMaxRevisions = 3

// Engine coordinates team task runs.
type Engine struct {
	conv         *session.Conversation
	loader       *agent.Loader
	tasks        store.Store[*model.Task]
	teams        store.Store[*model.Team]
	checkpoints  *checkpoint.Store
	metrics      *metrics.Metrics
	output       session.Output
	maxRevisions int
	logger       *logging.Logger
}

// Config holds engine collaborators. Checkpoints, Metrics and Output are
// optional.
type Config struct {
	Conversation *session.Conversation
	Loader       *agent.Loader
	Tasks        store.Store[*model.Task]
	Teams        store.Store[*model.Team]
	Checkpoints  *checkpoint.Store
	Metrics      *metrics.Metrics
	Output       session.Output
	MaxRevisions int
}

// New creates an engine.
func New(cfg Config) *Engine {
	out := cfg.Output
	if out == nil {
		out = session.Discard
	}
	maxRevisions := cfg.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	return &Engine{
		conv:         cfg.Conversation,
		loader:       cfg.Loader,
		tasks:        cfg.Tasks,
		teams:        cfg.Teams,
		checkpoints:  cfg.Checkpoints,
		metrics:      cfg.Metrics,
		output:       out,
		maxRevisions: maxRevisions,
		logger:       logging.New().WithComponent("team"),
	}
}

// Crew is a team resolved to runnable agents.
type Crew struct {
	Team    *model.Team
	Leader  *agent.Agent
	Members []*agent.Agent // every resolved member, leader included
}

func (c *Crew) byName(name string) *agent.Agent {
	name = strings.Trim(strings.TrimSpace(name), "*_`")
	for _, m := range c.Members {
		if strings.EqualFold(m.Name(), name) {
			return m
		}
	}
	return nil
}

func (c *Crew) others() []*agent.Agent {
	var out []*agent.Agent
	for _, m := range c.Members {
		if c.Leader == nil || m.ID() != c.Leader.ID() {
			out = append(out, m)
		}
	}
	return out
}

// AssignTask links task to team and assigns every team member to it.
func (e *Engine) AssignTask(ctx context.Context, team *model.Team, task *model.Task) error {
	task.TeamID = team.ID
	task.AssignedAgents = append([]string(nil), team.AssignedAgents...)
	if task.Status == "" {
		task.Status = model.StatusPending
	}
	if _, err := e.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	team.AddTask(task.ID)
	if _, err := e.teams.Save(ctx, team); err != nil {
		return fmt.Errorf("saving team %s: %w", team.Name, err)
	}
	return nil
}

// WorkOnTask runs the plan, execute-review and evaluation phases and
// stores the final result on the task. Precondition failures put the task
// back to pending and are returned.
func (e *Engine) WorkOnTask(ctx context.Context, team *model.Team, task *model.Task) (result string, err error) {
	start := time.Now()
	name := fmt.Sprintf("%s/%s", team.Name, task.Title)
	e.logger.ExecutionStart(name)
	defer func() {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		e.logger.ExecutionComplete(name, time.Since(start), status)
	}()

	if err := e.transition(ctx, task, model.StatusInProgress); err != nil {
		return "", err
	}

	result, err = e.run(ctx, team, task)
	if err != nil {
		if errors.Is(err, ErrPrecondition) {
			e.logger.Error("error while working on task", map[string]interface{}{
				"team": team.Name, "task": task.Title, "error": err.Error(),
			})
			if rerr := e.transition(ctx, task, model.StatusPending); rerr != nil {
				return "", errors.Join(err, rerr)
			}
		}
		return "", err
	}

	task.Results = []string{result}
	if err := e.transition(ctx, task, model.StatusCompleted); err != nil {
		return "", err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, team *model.Team, task *model.Task) (string, error) {
	c, err := e.Resolve(ctx, team)
	if err != nil {
		return "", err
	}
	workflow, err := e.CreateWorkflow(ctx, c, task)
	if err != nil {
		return "", err
	}
	result, err := e.CoordinateWorkflow(ctx, c, task, workflow)
	if err != nil {
		return "", err
	}
	return e.EvaluateAndFinalize(ctx, c, task, result)
}

// Resolve loads the team's agents. Unresolvable members are skipped. A
// missing leader is not an error here; each phase checks for it.
func (e *Engine) Resolve(ctx context.Context, team *model.Team) (*Crew, error) {
	c := &Crew{Team: team}
	for _, id := range team.AssignedAgents {
		a, err := e.loader.Load(ctx, id)
		if err != nil {
			e.logger.Warn("skipping unresolved team member", map[string]interface{}{
				"team": team.Name, "agent": id, "error": err.Error(),
			})
			continue
		}
		c.Members = append(c.Members, a)
		if id == team.LeaderID {
			c.Leader = a
		}
	}
	return c, nil
}

func requireLeader(c *Crew, purpose string) error {
	if c.Leader == nil {
		return fmt.Errorf("%w: %w to %s", ErrPrecondition, ErrNoLeader, purpose)
	}
	return nil
}

// CreateWorkflow has the leader plan the task and informs every
// responsible member of its role.
func (e *Engine) CreateWorkflow(ctx context.Context, c *Crew, task *model.Task) (workflow []model.WorkflowStep, err error) {
	if err := requireLeader(c, "create the workflow"); err != nil {
		return nil, err
	}
	ctx, done := e.phase(ctx, "plan", task)
	defer func() { done(fmt.Sprintf("steps=%d", len(workflow)), err) }()

	var names []string
	for _, m := range c.others() {
		names = append(names, m.Name())
	}
	plan := e.ask(ctx, c, task, c.Leader,
		fmt.Sprintf(planPrompt, task.Title, task.Description, strings.Join(names, ", ")))

	workflow = ParseWorkflow(plan)
	if len(workflow) == 0 {
		e.logger.Warn("no workflow steps parsed from plan", map[string]interface{}{"task": task.Title})
	}
	e.record(func(s *checkpoint.Store) error {
		return s.SavePlan(task.ID, c.Team.ID, &checkpoint.Plan{Raw: plan, Steps: workflow, Timestamp: time.Now()})
	})

	for _, step := range workflow {
		for _, r := range step.Responsibilities {
			member := c.byName(r.Agent)
			if member == nil {
				e.logger.Warn("responsibility names an agent outside the team", map[string]interface{}{
					"task": task.Title, "agent": r.Agent,
				})
				continue
			}
			e.send(ctx, c, task, member, fmt.Sprintf(roleMessage, task.Title, step.Step, r.Task, step.EstimatedTime))
		}
	}
	return workflow, nil
}

// CoordinateWorkflow walks the workflow in order. Each responsible member
// contributes on top of the work so far and revises it until the leader's
// review says done.
func (e *Engine) CoordinateWorkflow(ctx context.Context, c *Crew, task *model.Task, workflow []model.WorkflowStep) (result string, err error) {
	if err := requireLeader(c, "coordinate the workflow"); err != nil {
		return "", err
	}
	ctx, done := e.phase(ctx, "execute", task)
	defer func() { done(fmt.Sprintf("chars=%d", len(result)), err) }()

	for _, step := range workflow {
		for _, r := range step.Responsibilities {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			member := c.byName(r.Agent)
			if member == nil {
				e.logger.Warn("skipping responsibility of unknown agent", map[string]interface{}{
					"task": task.Title, "agent": r.Agent,
				})
				continue
			}
			e.send(ctx, c, task, member, fmt.Sprintf(startMessage, task.Title, r.Task))

			contribution := fmt.Sprintf("%s's contribution: %s", member.Name(),
				e.ask(ctx, c, task, member, fmt.Sprintf(contributionPrompt, task.Title, task.Description, result)))
			result += "\n\n" + contribution

			result = e.review(ctx, c, task, step, r, member, contribution, result)
		}
	}
	return result, nil
}

// review runs the leader's review and revision rounds for one
// contribution and returns the extended result.
func (e *Engine) review(ctx context.Context, c *Crew, task *model.Task, step model.WorkflowStep, r model.Responsibility, member *agent.Agent, work, result string) string {
	for round := 1; round <= e.maxRevisions; round++ {
		feedback := e.ask(ctx, c, task, c.Leader, fmt.Sprintf(reviewPrompt, member.Name(), task.Title, r.Task, work))
		if strings.TrimSpace(feedback) == "" {
			e.logger.Warn("no review response received", map[string]interface{}{
				"task": task.Title, "agent": member.Name(),
			})
			return result
		}

		action, found := ParseAction(feedback)
		entry := &checkpoint.Review{
			Step: step.Step, Agent: member.Name(), Responsibility: r.Task, Round: round,
			Feedback: feedback, Action: string(action), Recognized: action.Valid(), Timestamp: time.Now(),
		}
		if action.Valid() {
			e.metrics.IncReviewAction(string(action))
		} else {
			e.metrics.IncReviewAction("unknown")
		}

		switch {
		case !found || !action.Valid():
			e.logger.Warn("unrecognized review action", map[string]interface{}{
				"task": task.Title, "agent": member.Name(), "action": string(action),
			})
			e.record(func(s *checkpoint.Store) error { return s.SaveReview(task.ID, entry) })
			return result
		case action == ActionDone:
			e.record(func(s *checkpoint.Store) error { return s.SaveReview(task.ID, entry) })
			return result
		}

		if err := member.Reload(); err != nil {
			e.logger.Warn("keeping current LLM binding", map[string]interface{}{
				"agent": member.Name(), "error": err.Error(),
			})
		}
		revised := e.ask(ctx, c, task, member, fmt.Sprintf(revisionPrompts[action], feedback, task.Title))
		work = fmt.Sprintf("%s %s: %s", revisionLabels[action], member.Name(), revised)
		result += "\n\n" + work

		entry.Revision = revised
		e.record(func(s *checkpoint.Store) error { return s.SaveReview(task.ID, entry) })
	}
	e.logger.Warn("revision limit reached", map[string]interface{}{
		"task": task.Title, "agent": member.Name(), "rounds": e.maxRevisions,
	})
	return result
}

// EvaluateAndFinalize has the leader evaluate the accumulated result and
// shares the summary with every other member.
func (e *Engine) EvaluateAndFinalize(ctx context.Context, c *Crew, task *model.Task, result string) (final string, err error) {
	if err := requireLeader(c, "evaluate and finalize the task"); err != nil {
		return "", err
	}
	ctx, done := e.phase(ctx, "evaluate", task)
	defer func() { done("", err) }()

	evaluation := strings.TrimSpace(e.ask(ctx, c, task, c.Leader, fmt.Sprintf(evaluationPrompt, task.Title, result)))
	e.record(func(s *checkpoint.Store) error {
		return s.SaveEvaluation(task.ID, &checkpoint.Evaluation{Summary: evaluation, Missing: evaluation == "", Timestamp: time.Now()})
	})

	if evaluation == "" {
		e.logger.Warn("no evaluation response received", map[string]interface{}{"task": task.Title})
		return fmt.Sprintf("Task Results:\n%s\n\nWarning: No evaluation response received from the team leader.", result), nil
	}

	for _, m := range c.others() {
		e.send(ctx, c, task, m, fmt.Sprintf(completionMessage, task.Title, evaluation))
	}
	return fmt.Sprintf("Task Results:\n%s\n\nTeam Leader Evaluation and Summary:\n%s", result, evaluation), nil
}

// ask runs prompt through a's session for the task and returns the reply
// result.
func (e *Engine) ask(ctx context.Context, c *Crew, task *model.Task, a *agent.Agent, prompt string) string {
	sess, err := e.conv.Sessions().ForTask(ctx, task.ID, a.ID(), c.Team.ID)
	if err != nil {
		e.logger.Error("failed to open session", map[string]interface{}{
			"agent": a.Name(), "task": task.Title, "error": err.Error(),
		})
		sess = &session.Session{AgentID: a.ID(), TaskID: task.ID, TeamID: c.Team.ID}
	}
	return e.conv.Run(ctx, sess, a, prompt, session.Options{Stream: true, Output: e.output}).Result
}

// send delivers a message from the leader to a member.
func (e *Engine) send(ctx context.Context, c *Crew, task *model.Task, to *agent.Agent, content string) {
	e.ask(ctx, c, task, to, fmt.Sprintf("%s: %s", c.Leader.Name(), content))
}

func (e *Engine) record(fn func(*checkpoint.Store) error) {
	if e.checkpoints == nil {
		return
	}
	if err := fn(e.checkpoints); err != nil {
		e.logger.Warn("failed to write checkpoint", map[string]interface{}{"error": err.Error()})
	}
}

// phase opens a span and logs the start of a workflow phase. The returned
// func closes both.
func (e *Engine) phase(ctx context.Context, name string, task *model.Task) (context.Context, func(string, error)) {
	start := time.Now()
	phase := strings.ToUpper(name)
	e.logger.PhaseStart(phase, task.Title, "")

	var span trace.Span
	ctx, span = telemetry.GetTracer().StartSpan(ctx, "team."+name)
	span.SetAttributes(attribute.String("task.title", task.Title), attribute.String("task.id", task.ID))

	return ctx, func(result string, err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		e.logger.PhaseComplete(phase, task.Title, "", time.Since(start), result)
	}
}

func (e *Engine) transition(ctx context.Context, task *model.Task, to model.TaskStatus) error {
	if err := task.Transition(to); err != nil {
		return err
	}
	if _, err := e.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	e.metrics.IncTaskStatus(string(to))
	return nil
}
