// Package host is the environment plugins attach to: the architecture
// registry, the patch registry, the task manager, the logger and the
// function commands a front end can offer.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/isseis/go-obfuhook/internal/task"
	"github.com/isseis/go-obfuhook/internal/view"
)

// Static errors
var (
	// ErrCommandExists indicates a second registration under the same label.
	ErrCommandExists = errors.New("command already registered")

	// ErrCommandNotFound indicates no command has the requested label.
	ErrCommandNotFound = errors.New("command not found")
)

// FunctionCallback is the action of a function command.
type FunctionCallback func(ctx context.Context, v *view.View, fn *view.Function) error

// Command is an action a front end offers on a function.
type Command struct {
	Label       string
	Description string
	Callback    FunctionCallback
}

// Host holds the shared state plugins work with. Create it with New.
type Host struct {
	Architectures *arch.Registry
	Patches       *patch.Registry
	Tasks         *task.Manager
	Logger        *slog.Logger

	mu       sync.RWMutex
	commands map[string]Command
}

// New creates a host. Nil arguments get fresh defaults: an empty
// architecture registry, an in-memory patch registry, a task manager and
// slog.Default().
func New(archs *arch.Registry, patches *patch.Registry, logger *slog.Logger) *Host {
	if archs == nil {
		archs = arch.NewRegistry()
	}
	if patches == nil {
		patches = patch.NewRegistry(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		Architectures: archs,
		Patches:       patches,
		Tasks:         task.NewManager(logger),
		Logger:        logger,
		commands:      make(map[string]Command),
	}
}

// RegisterForFunction adds a command that operates on one function.
func (h *Host) RegisterForFunction(label, description string, callback FunctionCallback) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.commands[label]; ok {
		return fmt.Errorf("%w: %s", ErrCommandExists, label)
	}
	h.commands[label] = Command{Label: label, Description: description, Callback: callback}
	return nil
}

// Commands returns the registered commands sorted by label.
func (h *Host) Commands() []Command {
	h.mu.RLock()
	out := make([]Command, 0, len(h.commands))
	for _, c := range h.commands {
		out = append(out, c)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Command returns the command registered under label.
func (h *Host) Command(label string) (Command, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.commands[label]
	return c, ok
}

// Invoke runs the command registered under label on fn.
func (h *Host) Invoke(ctx context.Context, label string, fn *view.Function) error {
	c, ok := h.Command(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, label)
	}
	return c.Callback(ctx, fn.View(), fn)
}

// Log writes msg to the host log.
func (h *Host) Log(level slog.Level, msg string, args ...any) {
	h.Logger.Log(context.Background(), level, msg, args...)
}

// Shutdown cancels running tasks and waits for them.
func (h *Host) Shutdown() {
	h.Tasks.Shutdown()
}
