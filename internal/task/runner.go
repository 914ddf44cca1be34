// Package task runs step-by-step tasks: a primary agent works each step
// and an evaluator agent reviews it.
package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vinayprograms/crew/internal/agent"
	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
)

// ErrNoAgents is returned when a task is started without assigned agents.
var ErrNoAgents = errors.New("task has no assigned agents")

// EvaluatorName is the name given to the per-run evaluator agent.
const EvaluatorName = "Evaluator"

// Runner executes tasks.
type Runner struct {
	conv    *session.Conversation
	loader  *agent.Loader
	tasks   store.Store[*model.Task]
	metrics *metrics.Metrics
	output  session.Output
	logger  *logging.Logger
}

// Config holds runner collaborators. Metrics and Output are optional.
type Config struct {
	Conversation *session.Conversation
	Loader       *agent.Loader
	Tasks        store.Store[*model.Task]
	Metrics      *metrics.Metrics
	Output       session.Output
}

// New creates a runner.
func New(cfg Config) *Runner {
	out := cfg.Output
	if out == nil {
		out = session.Discard
	}
	return &Runner{
		conv:    cfg.Conversation,
		loader:  cfg.Loader,
		tasks:   cfg.Tasks,
		metrics: cfg.Metrics,
		output:  out,
		logger:  logging.New().WithComponent("task"),
	}
}

// Start runs every pending step of task with its first assigned agent and
// marks the task completed. A task without agents stays pending.
func (r *Runner) Start(ctx context.Context, task *model.Task) (err error) {
	if len(task.AssignedAgents) == 0 {
		return ErrNoAgents
	}

	primary, err := r.team(ctx, task.AssignedAgents)
	if err != nil {
		return err
	}
	evaluator := primary.Derive(EvaluatorName, EvaluatorPrompt)
	primary.AddSubAgent(evaluator)

	start := time.Now()
	r.logger.ExecutionStart(task.Title)
	ctx, span := telemetry.GetTracer().StartSpan(ctx, "task.run")
	span.SetAttributes(
		attribute.String("task.title", task.Title),
		attribute.String("task.agent", primary.Name()),
		attribute.Int("task.steps", len(task.StepInstructions)),
	)
	defer func() {
		status := string(task.Status)
		if err != nil {
			span.RecordError(err)
			status = "failed"
		}
		span.SetAttributes(attribute.String("task.status", string(task.Status)))
		span.End()
		r.logger.ExecutionComplete(task.Title, time.Since(start), status)
	}()

	if err := r.transition(ctx, task, model.StatusInProgress); err != nil {
		return err
	}

	sess, err := r.conv.Sessions().ForTask(ctx, task.ID, primary.ID(), task.TeamID)
	if err != nil {
		return fmt.Errorf("opening session for task %s: %w", task.ID, err)
	}
	if len(sess.Chat) == 0 && task.Description != "" {
		sess.Append(model.Turn{Role: model.RoleUser, Type: model.TurnText, Content: task.Description})
		now := time.Now()
		sess.StartedAt = &now
		if err := r.conv.Sessions().Save(ctx, sess); err != nil {
			return err
		}
	}

	for _, idx := range task.StepInstructions.Order() {
		if task.Status != model.StatusInProgress {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		step := task.StepInstructions[idx]
		if step.Done {
			continue
		}
		r.runStep(ctx, task, idx, step, primary, evaluator, sess)

		task.StepInstructions.MarkDone(idx)
		if _, err := r.tasks.Save(ctx, task); err != nil {
			return fmt.Errorf("saving task %s: %w", task.ID, err)
		}
	}

	if err := r.transition(ctx, task, model.StatusCompleted); err != nil {
		return err
	}
	now := time.Now()
	sess.CompletedAt = &now
	return r.conv.Sessions().Save(ctx, sess)
}

// runStep sends one step to the primary agent and has the evaluator review
// the answer. The evaluation is advisory.
func (r *Runner) runStep(ctx context.Context, task *model.Task, idx int, step model.Step, primary, evaluator *agent.Agent, sess *session.Session) {
	stepID := strconv.Itoa(idx + 1)
	start := time.Now()
	r.logger.PhaseStart("EXECUTE", task.Title, stepID)

	ctx, span := telemetry.GetTracer().StartSpan(ctx, "task.step")
	span.SetAttributes(attribute.Int("step.index", idx), attribute.String("step.text", step.Step))
	defer span.End()

	out := r.conv.Run(ctx, sess, primary, fmt.Sprintf("Step #%s: %s", stepID, step.Step),
		session.Options{Stream: true, Output: r.output})
	task.Results = append(task.Results, out.Result)
	r.logger.PhaseComplete("EXECUTE", task.Title, stepID, time.Since(start), "done")

	latest := out.Result
	if last, ok := sess.Last(); ok {
		latest = last.Content
	}

	evalStart := time.Now()
	r.logger.PhaseStart("EVALUATE", task.Title, stepID)
	scratch := &session.Session{AgentID: primary.ID(), TaskID: task.ID}
	verdict := r.conv.Run(ctx, scratch, evaluator, fmt.Sprintf(evaluationRequest, step.Step, latest),
		session.Options{Stream: true, Output: r.output, SkipHistory: true})

	result := "unscored"
	if score, ok := ParseScore(verdict.Text); ok {
		r.metrics.ObserveScore(score)
		span.SetAttributes(attribute.Float64("step.score", score))
		result = fmt.Sprintf("score=%g", score)
	} else {
		r.logger.Warn("evaluation has no final score", map[string]interface{}{
			"task": task.Title, "step": stepID,
		})
	}
	r.logger.PhaseComplete("EVALUATE", task.Title, stepID, time.Since(evalStart), result)
}

// Instruct asks instructor to break the task into steps and stores them.
func (r *Runner) Instruct(ctx context.Context, task *model.Task, instructor *agent.Agent) (model.StepInstructions, error) {
	scratch := &session.Session{AgentID: instructor.ID(), TaskID: task.ID}
	out := r.conv.Run(ctx, scratch, instructor, fmt.Sprintf(InstructorPrompt, task.Title, task.Description),
		session.Options{Output: r.output, SkipHistory: true})

	steps := ExtractSteps(out.Result)
	if len(steps) == 0 {
		steps = ExtractSteps(out.Text)
	}
	if len(steps) == 0 {
		r.logger.Warn("instructor returned no steps", map[string]interface{}{"task": task.Title})
	}
	task.StepInstructions = steps
	if _, err := r.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	return steps, nil
}

// team loads the primary agent and attaches the remaining agents as its
// sub-agents.
func (r *Runner) team(ctx context.Context, ids []string) (*agent.Agent, error) {
	primary, err := r.loader.Load(ctx, ids[0])
	if err != nil {
		return nil, fmt.Errorf("loading primary agent: %w", err)
	}
	for _, id := range ids[1:] {
		sub, err := r.loader.Load(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unresolved task agent", map[string]interface{}{
				"agent": id, "error": err.Error(),
			})
			continue
		}
		primary.AddSubAgent(sub)
	}
	return primary, nil
}

func (r *Runner) transition(ctx context.Context, task *model.Task, to model.TaskStatus) error {
	if err := task.Transition(to); err != nil {
		return err
	}
	if _, err := r.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	r.metrics.IncTaskStatus(string(to))
	return nil
}
