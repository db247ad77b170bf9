// Package task runs long operations, such as the obfuscation pass, on
// background goroutines with progress, cancellation and per-key exclusivity.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a task.
type Status int

// Task statuses.
const (
	Running Status = iota
	Completed
	Failed
	Canceled
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Func is the work a task performs. It should return promptly once ctx is
// done.
type Func func(ctx context.Context, t *Task) error

// Progress is the last progress a task reported.
type Progress struct {
	Percent int
	Text    string
}

// Task is one execution of a Func.
type Task struct {
	id      string
	key     string
	name    string
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	progress Progress
	status   Status
	err      error
	finished time.Time
}

func newTask(ctx context.Context, key, name string, cancel context.CancelFunc) *Task {
	return &Task{
		id:      ulid.Make().String(),
		key:     key,
		name:    name,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  Running,
	}
}

// ID returns the task's unique, time-ordered identifier.
func (t *Task) ID() string { return t.id }

// Key returns the exclusivity key the task was started under.
func (t *Task) Key() string { return t.key }

// Name returns the display name.
func (t *Task) Name() string { return t.name }

// Started returns when the task began.
func (t *Task) Started() time.Time { return t.started }

// Context is canceled when the task is asked to stop.
func (t *Task) Context() context.Context {
	return t.ctx
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.Err()
}

// SetProgress records progress. Percent is clamped to [0, 100] and never
// moves backwards.
func (t *Task) SetProgress(percent int, text string) {
	percent = max(0, min(percent, 100))

	t.mu.Lock()
	defer t.mu.Unlock()

	if percent < t.progress.Percent {
		percent = t.progress.Percent
	}
	t.progress = Progress{Percent: percent, Text: text}
}

// Progress returns the last reported progress.
func (t *Task) Progress() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.progress
}

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}

// Err returns the error the task finished with, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Elapsed returns the running time so far, or the total once finished.
func (t *Task) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished.IsZero() {
		return time.Since(t.started)
	}
	return t.finished.Sub(t.started)
}

// run executes fn and records the outcome. The caller closes done.
func (t *Task) run(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: t.name, Value: r}
		}
		t.finish(ctx, err)
	}()
	return fn(ctx, t)
}

func (t *Task) finish(ctx context.Context, err error) {
	t.mu.Lock()
	switch {
	case err == nil:
		t.status = Completed
		t.progress.Percent = 100
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		t.status = Canceled
	default:
		t.status = Failed
	}
	t.err = err
	t.finished = time.Now()
	t.mu.Unlock()

	t.cancel()
}

func (t *Task) String() string {
	return fmt.Sprintf("%s (%s) %s", t.name, t.key, t.Status())
}
