package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Kind selects how a job is executed.
type Kind string

const (
	KindTask     Kind = "task"      // single task, TaskRunner
	KindTeamTask Kind = "team_task" // team task, TeamWorkflowEngine
)

// Job is a queued background run.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	TaskID      string    `json:"task_id"`
	TeamID      string    `json:"team_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue carries jobs from submitters to workers.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Subscribe delivers jobs until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Job, error)
	Close() error
}

// NATSQueue publishes jobs as JSON on a subject. Workers share a queue
// group so each job is delivered to one of them.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// Connect dials the NATS server at url.
func Connect(url, subject, group string, opts ...nats.Option) (*NATSQueue, error) {
	opts = append([]nats.Option{nats.Name("crew"), nats.MaxReconnects(-1)}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSQueue{conn: nc, subject: subject, group: group}, nil
}

func (q *NATSQueue) Publish(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	if err := q.conn.Publish(q.subject, data); err != nil {
		return fmt.Errorf("publishing job %s: %w", job.ID, err)
	}
	return q.conn.FlushWithContext(ctx)
}

func (q *NATSQueue) Subscribe(ctx context.Context) (<-chan Job, error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", q.subject, err)
	}

	jobs := make(chan Job)
	go func() {
		defer close(jobs)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				var job Job
				if err := json.Unmarshal(msg.Data, &job); err != nil {
					logger.Warn("dropping malformed job", map[string]interface{}{"error": err.Error()})
					continue
				}
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return jobs, nil
}

// Close drains pending messages and closes the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}

// LocalQueue is an in-process queue for single-binary runs and tests.
type LocalQueue struct {
	mu     sync.Mutex
	ch     chan Job
	closed bool
}

// NewLocalQueue creates a queue buffering up to size jobs.
func NewLocalQueue(size int) *LocalQueue {
	return &LocalQueue{ch: make(chan Job, size)}
}

func (q *LocalQueue) Publish(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *LocalQueue) Subscribe(ctx context.Context) (<-chan Job, error) {
	jobs := make(chan Job)
	go func() {
		defer close(jobs)
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.ch:
				if !ok {
					return
				}
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return jobs, nil
}

func (q *LocalQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
