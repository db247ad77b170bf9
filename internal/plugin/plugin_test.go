//go:build test

package plugin

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/deobf"
	"github.com/isseis/go-obfuhook/internal/host"
	"github.com/isseis/go-obfuhook/internal/task"
	"github.com/isseis/go-obfuhook/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenario is "add ecx, 0xdeadbeef; add edx, 0xcafef00d; mov ecx, 0; mov edx, 0; ret".
var scenario = []byte{
	0x81, 0xc1, 0xef, 0xbe, 0xad, 0xde,
	0x81, 0xc2, 0x0d, 0xf0, 0xfe, 0xca,
	0xb9, 0x00, 0x00, 0x00, 0x00,
	0xba, 0x00, 0x00, 0x00, 0x00,
	0xc3,
}

func setup(t *testing.T, code []byte) (*host.Host, *Plugin, *view.Function, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	h := host.New(nil, nil, slog.New(slog.NewTextHandler(&buf, nil)))
	p, err := Init(h, Options{})
	require.NoError(t, err)
	t.Cleanup(h.Shutdown)

	v, err := view.NewRaw(code, 0x1000, "x86", h.Architectures)
	require.NoError(t, err)
	fn, err := v.AddFunction(0x1000)
	require.NoError(t, err)
	return h, p, fn, &buf
}

func TestInit(t *testing.T) {
	h, _, _, buf := setup(t, scenario)

	for _, name := range DefaultArchitectures {
		a, err := h.Architectures.GetByName(name)
		require.NoError(t, err)
		assert.IsType(t, &arch.Hook{}, a, name)
	}

	var labels []string
	for _, c := range h.Commands() {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{CommandFix, CommandFixForeground, CommandIndirectBranches}, labels)
	assert.Contains(t, buf.String(), "Loaded architecture hook")

	// Hooking twice keeps a single layer.
	require.NoError(t, RegisterHook(h, "x86"))
	a, err := h.Architectures.GetByName("x86")
	require.NoError(t, err)
	_, nested := a.(*arch.Hook).Base().(*arch.Hook)
	assert.False(t, nested)

	_, err = Init(h, Options{})
	assert.ErrorIs(t, err, host.ErrCommandExists)
}

func TestRegisterHook_Unknown(t *testing.T) {
	h := host.New(nil, nil, nil)
	assert.ErrorIs(t, RegisterHook(h, "mips"), arch.ErrArchitectureNotFound)
}

func TestFixObfuscation_Synchronous(t *testing.T) {
	h, p, fn, _ := setup(t, scenario)

	require.NoError(t, p.FixObfuscation(nil, fn.View(), fn))
	assert.Equal(t, 2, h.Patches.Len(fn.View().ID()))

	other, err := view.NewRaw(scenario, 0x2000, "x86", h.Architectures)
	require.NoError(t, err)
	assert.Error(t, p.FixObfuscation(nil, other, fn))
}

func TestCommand_FixBackground(t *testing.T) {
	h, _, fn, _ := setup(t, scenario)

	require.NoError(t, h.Invoke(context.Background(), CommandFix, fn))
	h.Tasks.Wait()

	v := fn.View()
	assert.Equal(t, 2, h.Patches.Len(v.ID()))

	a, err := fn.Architecture()
	require.NoError(t, err)
	for _, addr := range []uint64{0x1000, 0x1006} {
		tokens, n, err := v.InstructionText(a, addr)
		require.NoError(t, err)
		assert.Equal(t, "nop", arch.JoinText(tokens))
		assert.Equal(t, 6, n)
	}
}

func TestCommand_FixForeground(t *testing.T) {
	h, p, fn, _ := setup(t, scenario)

	require.NoError(t, h.Invoke(context.Background(), CommandFixForeground, fn))
	assert.Equal(t, 2, h.Patches.Len(fn.View().ID()))

	res, err := p.FixForeground(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, deobf.Done, res.State)
	assert.Zero(t, res.Patched())
}

func TestFixInBackground_Progress(t *testing.T) {
	_, p, fn, _ := setup(t, scenario)

	tk, err := p.FixInBackground(fn)
	require.NoError(t, err)
	require.NoError(t, tk.Wait())

	assert.Equal(t, task.Completed, tk.Status())
	assert.Equal(t, 100, tk.Progress().Percent)
	assert.Equal(t, "De-Obfuscating: done", tk.Progress().Text)
}

func TestCommand_FixWhileActive(t *testing.T) {
	h, p, fn, _ := setup(t, scenario)

	release := make(chan struct{})
	busy, err := h.Tasks.Start(task.Key(fn.View().ID(), fn.Start()), "busy", func(context.Context, *task.Task) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	assert.ErrorIs(t, h.Invoke(context.Background(), CommandFix, fn), task.ErrTaskActive)
	assert.ErrorIs(t, h.Invoke(context.Background(), CommandFixForeground, fn), task.ErrTaskActive)
	assert.ErrorIs(t, p.FixObfuscation(nil, fn.View(), fn), task.ErrTaskActive)

	close(release)
	require.NoError(t, busy.Wait())
	assert.Zero(t, h.Patches.Len(fn.View().ID()))
}

func TestCommand_LabelIndirectBranches(t *testing.T) {
	// call eax; jmp ecx
	h, _, fn, buf := setup(t, []byte{0xff, 0xd0, 0xff, 0xe1})

	require.NoError(t, h.Invoke(context.Background(), CommandIndirectBranches, fn))
	out := buf.String()
	assert.Contains(t, out, "address=0x1000 kind=call")
	assert.Contains(t, out, "address=0x1002 kind=jump")
}
