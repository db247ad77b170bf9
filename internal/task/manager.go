package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/isseis/go-obfuhook/internal/patch"
)

// Key returns the exclusivity key for work on the function at address in
// view.
func Key(view patch.ViewID, address uint64) string {
	return fmt.Sprintf("%s@%#x", view, address)
}

// Manager runs tasks and guarantees at most one active task per key.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Task
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a manager. A nil logger uses slog.Default().
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		active: make(map[string]*Task),
	}
}

// claim registers a new task under key.
func (m *Manager) claim(ctx context.Context, key, name string) (*Task, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrManagerClosed
	}
	if t, ok := m.active[key]; ok {
		return nil, nil, fmt.Errorf("%w: %s (task %s)", ErrTaskActive, key, t.ID())
	}

	ctx, cancel := context.WithCancel(ctx)
	t := newTask(ctx, key, name, cancel)
	m.active[key] = t
	m.wg.Add(1)
	return t, ctx, nil
}

// release frees key and then wakes waiters, so a waiter may immediately
// start a new task under the same key.
func (m *Manager) release(t *Task) {
	m.mu.Lock()
	if m.active[t.key] == t {
		delete(m.active, t.key)
	}
	m.mu.Unlock()

	close(t.done)
	m.wg.Done()
}

func (m *Manager) execute(ctx context.Context, t *Task, fn Func) error {
	log := m.logger.With(slog.String("task", t.ID()), slog.String("key", t.key))
	log.Debug("Task started", slog.String("name", t.name))

	err := t.run(ctx, fn)

	switch t.Status() {
	case Completed:
		log.Info("Task completed", slog.String("name", t.name), slog.Duration("elapsed", t.Elapsed()))
	case Canceled:
		log.Info("Task canceled", slog.String("name", t.name))
	default:
		log.Error("Task failed", slog.String("name", t.name), slog.Any("error", err))
	}

	m.release(t)
	return err
}

// Start runs fn on its own goroutine. It fails with ErrTaskActive while
// another task holds key.
func (m *Manager) Start(key, name string, fn Func) (*Task, error) {
	t, ctx, err := m.claim(context.Background(), key, name)
	if err != nil {
		return nil, err
	}
	go func() {
		_ = m.execute(ctx, t, fn)
	}()
	return t, nil
}

// Run executes fn on the calling goroutine under the same exclusivity as
// Start. Canceling ctx cancels the task.
func (m *Manager) Run(ctx context.Context, key, name string, fn Func) (*Task, error) {
	t, tctx, err := m.claim(ctx, key, name)
	if err != nil {
		return nil, err
	}
	return t, m.execute(tctx, t, fn)
}

// Active returns the task running under key.
func (m *Manager) Active(key string) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.active[key]
	return t, ok
}

// Tasks returns the running tasks ordered by start.
func (m *Manager) Tasks() []*Task {
	m.mu.Lock()
	out := make([]*Task, 0, len(m.active))
	for _, t := range m.active {
		out = append(out, t)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Wait blocks until every task has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown refuses new tasks, cancels the running ones and waits for them.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	running := make([]*Task, 0, len(m.active))
	for _, t := range m.active {
		running = append(running, t)
	}
	m.mu.Unlock()

	for _, t := range running {
		t.Cancel()
	}
	m.wg.Wait()
}
