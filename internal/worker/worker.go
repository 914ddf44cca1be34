// Package worker runs tasks in the background. Submitters tag the task with
// a job ID (its pid) and enqueue the job; workers pick jobs up, mark the
// task in progress, run it and settle its final status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/crew/internal/metrics"
	"github.com/vinayprograms/crew/internal/model"
	"github.com/vinayprograms/crew/internal/session"
	"github.com/vinayprograms/crew/internal/store"
)

var logger = logging.New().WithComponent("worker")

// ErrInvalidJob is returned when a job cannot be built for a task.
var ErrInvalidJob = errors.New("invalid job")

// TaskRunner runs a single-agent task.
type TaskRunner interface {
	Start(ctx context.Context, task *model.Task) error
}

// TeamRunner runs a task with a team.
type TeamRunner interface {
	WorkOnTask(ctx context.Context, team *model.Team, task *model.Task) (string, error)
}

// Submit tags task with a new job ID, saves it and enqueues the job.
// Team jobs use the task's team.
func Submit(ctx context.Context, q Queue, tasks store.Store[*model.Task], kind Kind, task *model.Task) (Job, error) {
	job := Job{ID: uuid.NewString(), Kind: kind, TaskID: task.ID, SubmittedAt: time.Now()}
	switch kind {
	case KindTask:
	case KindTeamTask:
		if task.TeamID == "" {
			return Job{}, fmt.Errorf("%w: task %s is not assigned to a team", ErrInvalidJob, task.Title)
		}
		job.TeamID = task.TeamID
	default:
		return Job{}, fmt.Errorf("%w: unknown job kind %q", ErrInvalidJob, kind)
	}
	if task.Status == model.StatusCompleted {
		return Job{}, fmt.Errorf("task %s: %w: already completed", task.Title, model.ErrInvalidTransition)
	}

	task.PID = job.ID
	id, err := tasks.Save(ctx, task)
	if err != nil {
		return Job{}, fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	job.TaskID = id

	if err := q.Publish(ctx, job); err != nil {
		return Job{}, err
	}
	logger.Info("job submitted", map[string]interface{}{
		"job": job.ID, "kind": string(kind), "task": task.Title,
	})
	return job, nil
}

// Worker consumes jobs from a queue.
type Worker struct {
	queue       Queue
	tasks       store.Store[*model.Task]
	teams       store.Store[*model.Team]
	sessions    *session.Manager
	runner      TaskRunner
	engine      TeamRunner
	metrics     *metrics.Metrics
	concurrency int
}

// Config holds worker collaborators. Sessions and Metrics are optional.
type Config struct {
	Queue       Queue
	Tasks       store.Store[*model.Task]
	Teams       store.Store[*model.Team]
	Sessions    *session.Manager
	Runner      TaskRunner
	Engine      TeamRunner
	Metrics     *metrics.Metrics
	Concurrency int
}

// New creates a worker.
func New(cfg Config) *Worker {
	n := cfg.Concurrency
	if n < 1 {
		n = 1
	}
	return &Worker{
		queue:       cfg.Queue,
		tasks:       cfg.Tasks,
		teams:       cfg.Teams,
		sessions:    cfg.Sessions,
		runner:      cfg.Runner,
		engine:      cfg.Engine,
		metrics:     cfg.Metrics,
		concurrency: n,
	}
}

// Run processes jobs until ctx is done, at most concurrency at a time.
// In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	jobs, err := w.queue.Subscribe(ctx)
	if err != nil {
		return err
	}
	logger.Info("worker started", map[string]interface{}{"concurrency": w.concurrency})

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for job := range jobs {
		g.Go(func() error {
			w.Handle(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

// Handle runs one job through prerun, execution and postrun.
func (w *Worker) Handle(ctx context.Context, job Job) {
	start := time.Now()
	w.metrics.JobStarted()

	task, err := w.prerun(ctx, job)
	if err == nil {
		err = w.execute(ctx, job, task)
		w.postrun(ctx, job, err)
	}

	w.metrics.JobFinished(string(job.Kind), err)
	fields := map[string]interface{}{
		"job": job.ID, "kind": string(job.Kind), "duration": time.Since(start).String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.Error("job failed", fields)
		return
	}
	logger.Info("job completed", fields)
}

// prerun finds the task by pid and marks it in progress.
func (w *Worker) prerun(ctx context.Context, job Job) (*model.Task, error) {
	task, err := w.tasks.FindOne(ctx, store.Filter{"pid": job.ID})
	if err != nil {
		return nil, fmt.Errorf("finding task for job %s: %w", job.ID, err)
	}
	if err := task.Transition(model.StatusInProgress); err != nil {
		return nil, err
	}
	if _, err := w.tasks.Save(ctx, task); err != nil {
		return nil, fmt.Errorf("saving task %s: %w", task.Title, err)
	}
	return task, nil
}

func (w *Worker) execute(ctx context.Context, job Job, task *model.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()

	switch job.Kind {
	case KindTask:
		if w.runner == nil {
			return errors.New("no task runner configured")
		}
		return w.runner.Start(ctx, task)
	case KindTeamTask:
		if w.engine == nil {
			return errors.New("no team engine configured")
		}
		teamID := job.TeamID
		if teamID == "" {
			teamID = task.TeamID
		}
		team, err := w.teams.Get(ctx, teamID)
		if err != nil {
			return fmt.Errorf("loading team for task %s: %w", task.Title, err)
		}
		_, err = w.engine.WorkOnTask(ctx, team, task)
		return err
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// postrun settles the final status: completed on success, pending on
// failure. A task the run already completed is left alone.
func (w *Worker) postrun(ctx context.Context, job Job, runErr error) {
	task, err := w.tasks.FindOne(ctx, store.Filter{"pid": job.ID})
	if err != nil {
		logger.Error("task vanished during job", map[string]interface{}{"job": job.ID, "error": err.Error()})
		return
	}
	w.tagSessions(ctx, job, task)

	if task.Status == model.StatusCompleted {
		return
	}
	target := model.StatusCompleted
	if runErr != nil {
		target = model.StatusPending
	}
	// Pending -> Completed is not a valid move; go through in-progress.
	if task.Status == model.StatusPending && target == model.StatusCompleted {
		_ = task.Transition(model.StatusInProgress)
	}
	if err := task.Transition(target); err != nil {
		logger.Error("failed to settle task status", map[string]interface{}{"task": task.Title, "error": err.Error()})
		return
	}
	if _, err := w.tasks.Save(ctx, task); err != nil {
		logger.Error("failed to save task", map[string]interface{}{"task": task.Title, "error": err.Error()})
		return
	}
	w.metrics.IncTaskStatus(string(target))
}

// tagSessions marks the task's sessions with the job ID so a run can be
// looked up by pid.
func (w *Worker) tagSessions(ctx context.Context, job Job, task *model.Task) {
	if w.sessions == nil {
		return
	}
	sessions, err := w.sessions.ByTask(ctx, task.ID)
	if err != nil {
		logger.Warn("failed to list task sessions", map[string]interface{}{"task": task.Title, "error": err.Error()})
		return
	}
	for _, sess := range sessions {
		if sess.PID == job.ID {
			continue
		}
		sess.PID = job.ID
		if err := w.sessions.Save(ctx, sess); err != nil {
			logger.Warn("failed to tag session", map[string]interface{}{"session": sess.ID, "error": err.Error()})
		}
	}
}
