// Package plugin wires the architecture hook and the obfuscation pass into a
// host: it hooks the x86 architectures and registers the function commands.
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/arch/x86"
	"github.com/isseis/go-obfuhook/internal/deobf"
	"github.com/isseis/go-obfuhook/internal/host"
	"github.com/isseis/go-obfuhook/internal/task"
	"github.com/isseis/go-obfuhook/internal/view"
)

// Command labels.
const (
	CommandFix              = "Fix Obfuscation"
	CommandFixForeground    = "Fix Obfuscation (foreground)"
	CommandIndirectBranches = "Label Indirect Branches"
	taskName                = "De-Obfuscating"
)

// DefaultArchitectures are hooked when Options.Architectures is empty.
var DefaultArchitectures = []string{x86.Name32, x86.Name64}

// Options configures Init.
type Options struct {
	Architectures []string
	Policy        deobf.ConflictPolicy
	Idioms        []deobf.Idiom
}

// Plugin is the deobfuscation plugin attached to a host.
type Plugin struct {
	host *host.Host
	pass *deobf.Pass
}

// RegisterHook wraps the architecture registered under name with a hook
// reading the host's patches. Hooking an already hooked architecture is a
// no-op.
func RegisterHook(h *host.Host, name string) error {
	base, err := h.Architectures.GetByName(name)
	if err != nil {
		return err
	}
	if _, hooked := base.(*arch.Hook); hooked {
		return nil
	}
	h.Architectures.Register(arch.NewHook(base, h.Patches))
	h.Log(slog.LevelDebug, "Hooked architecture", slog.String("arch", name))
	return nil
}

// Init hooks the configured architectures and registers the commands.
// Base x86 architectures are added to the host if missing.
func Init(h *host.Host, opts Options) (*Plugin, error) {
	names := opts.Architectures
	if len(names) == 0 {
		names = DefaultArchitectures
	}
	if _, err := h.Architectures.GetByName(x86.Name32); err != nil {
		x86.Register(h.Architectures)
	}
	for _, name := range names {
		if err := RegisterHook(h, name); err != nil {
			return nil, fmt.Errorf("failed to hook %s: %w", name, err)
		}
	}

	passOpts := []deobf.Option{deobf.WithLogger(h.Logger)}
	if opts.Policy != nil {
		passOpts = append(passOpts, deobf.WithPolicy(opts.Policy))
	}
	if len(opts.Idioms) > 0 {
		passOpts = append(passOpts, deobf.WithIdioms(opts.Idioms...))
	}
	p := &Plugin{host: h, pass: deobf.NewPass(h.Patches, passOpts...)}

	commands := []host.Command{
		{Label: CommandFix, Description: "Remove obfuscation idioms from the function in the background", Callback: p.fixBackground},
		{Label: CommandFixForeground, Description: "Remove obfuscation idioms from the function", Callback: p.fixForeground},
		{Label: CommandIndirectBranches, Description: "Log the indirect jumps and calls of the function", Callback: p.labelIndirectBranches},
	}
	for _, c := range commands {
		if err := h.RegisterForFunction(c.Label, c.Description, c.Callback); err != nil {
			return nil, err
		}
	}

	h.Log(slog.LevelInfo, "Loaded architecture hook", slog.Any("architectures", names))
	return p, nil
}

// FixObfuscation runs the pass on fn. With a nil task it claims the
// function's task key and runs to completion on the caller's goroutine,
// failing with task.ErrTaskActive while the function is being processed;
// otherwise it reports progress to t and stops when t is canceled.
func (p *Plugin) FixObfuscation(t *task.Task, v *view.View, fn *view.Function) error {
	if fn.View() != v {
		return fmt.Errorf("function %#x does not belong to view %s", fn.Start(), v.ID())
	}
	if t != nil {
		_, err := p.Fix(t.Context(), t, fn)
		return err
	}
	_, err := p.host.Tasks.Run(context.Background(), task.Key(v.ID(), fn.Start()), taskName, func(ctx context.Context, t *task.Task) error {
		_, err := p.Fix(ctx, t, fn)
		return err
	})
	return err
}

// Fix runs the pass on fn and returns its result.
func (p *Plugin) Fix(ctx context.Context, t *task.Task, fn *view.Function) (*deobf.Result, error) {
	var reporter deobf.Reporter
	if t != nil {
		reporter = deobf.ReporterFunc(func(state deobf.State, percent int) {
			t.SetProgress(percent, fmt.Sprintf("%s: %s", taskName, state))
		})
	}
	return p.pass.Run(ctx, fn, reporter)
}

// FixInBackground starts the pass on fn as a task. It fails with
// task.ErrTaskActive while the function is already being processed.
func (p *Plugin) FixInBackground(fn *view.Function) (*task.Task, error) {
	v := fn.View()
	return p.host.Tasks.Start(task.Key(v.ID(), fn.Start()), taskName, func(_ context.Context, t *task.Task) error {
		return p.FixObfuscation(t, v, fn)
	})
}

// FixForeground runs the pass on fn under the task manager's exclusivity
// guard and waits for it.
func (p *Plugin) FixForeground(ctx context.Context, fn *view.Function) (*deobf.Result, error) {
	var res *deobf.Result
	_, err := p.host.Tasks.Run(ctx, task.Key(fn.View().ID(), fn.Start()), taskName, func(ctx context.Context, t *task.Task) error {
		var err error
		res, err = p.Fix(ctx, t, fn)
		return err
	})
	return res, err
}

func (p *Plugin) fixBackground(_ context.Context, _ *view.View, fn *view.Function) error {
	_, err := p.FixInBackground(fn)
	return err
}

func (p *Plugin) fixForeground(ctx context.Context, _ *view.View, fn *view.Function) error {
	_, err := p.FixForeground(ctx, fn)
	return err
}

func (p *Plugin) labelIndirectBranches(_ context.Context, v *view.View, fn *view.Function) error {
	branches, err := deobf.IndirectBranches(fn)
	if err != nil {
		return err
	}
	for _, b := range branches {
		kind := "jump"
		if b.Call {
			kind = "call"
		}
		p.host.Log(slog.LevelInfo, "Indirect branch",
			slog.String("view", string(v.ID())),
			slog.String("function", fmt.Sprintf("%#x", fn.Start())),
			slog.String("address", fmt.Sprintf("%#x", b.Address)),
			slog.String("kind", kind))
	}
	return nil
}
