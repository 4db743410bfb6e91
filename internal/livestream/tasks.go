package livestream

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"livesync/internal/platform/metrics"
)

// ErrRunnerClosed is returned by TaskRunner.Go after Shutdown.
var ErrRunnerClosed = errors.New("task runner is shut down")

// maxFinishedTasks bounds how many finished tasks are kept for Status.
const maxFinishedTasks = 500

// TaskState is the state of a background task.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// Task is a snapshot of one background task.
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	State      TaskState  `json:"state"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TaskFunc is the body of a background task.
type TaskFunc func(ctx context.Context) (any, error)

// TaskRunner runs commands in the background and keeps their outcome for
// later lookup. Tasks run on a context that is only cancelled when Shutdown
// gives up waiting.
type TaskRunner struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	tasks  map[string]*Task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewTaskRunner returns a runner. m may be nil.
func NewTaskRunner(log *slog.Logger, m *metrics.Metrics) *TaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		tasks:   make(map[string]*Task),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		metrics: m,
	}
}

// Go starts fn in a new goroutine and returns the task id.
func (r *TaskRunner) Go(name string, fn TaskFunc) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	t := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		State:     TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	r.tasks[t.ID] = t
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.IncBackgroundTasks()
	go r.run(t, fn)
	return t.ID, nil
}

func (r *TaskRunner) run(t *Task, fn TaskFunc) {
	defer r.wg.Done()

	result, err := r.safeCall(t, fn)

	r.mu.Lock()
	now := time.Now().UTC()
	t.FinishedAt = &now
	t.Result = result
	if err != nil {
		t.State = TaskFailed
		t.Error = err.Error()
	} else {
		t.State = TaskSucceeded
	}
	r.pruneLocked()
	r.mu.Unlock()

	if err != nil {
		r.log.Error("background task failed",
			slog.String("task_id", t.ID),
			slog.String("task", t.Name),
			slog.String("error", err.Error()))
		return
	}
	r.log.Info("background task finished",
		slog.String("task_id", t.ID),
		slog.String("task", t.Name),
		slog.Duration("took", now.Sub(t.StartedAt)))
}

func (r *TaskRunner) safeCall(t *Task, fn TaskFunc) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("background task panicked", slog.String("task_id", t.ID), slog.Any("panic", p))
			err = errors.New("task panicked")
		}
	}()
	return fn(r.ctx)
}

// pruneLocked drops the oldest finished tasks beyond maxFinishedTasks.
func (r *TaskRunner) pruneLocked() {
	var finished []*Task
	for _, t := range r.tasks {
		if t.FinishedAt != nil {
			finished = append(finished, t)
		}
	}
	if len(finished) <= maxFinishedTasks {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.Before(*finished[j].FinishedAt)
	})
	for _, t := range finished[:len(finished)-maxFinishedTasks] {
		delete(r.tasks, t.ID)
	}
}

// Status returns a snapshot of the task with id.
func (r *TaskRunner) Status(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Wait blocks until every task started so far has finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting tasks and waits for running ones. If ctx expires
// first, running tasks are cancelled and ctx's error is returned.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
