package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/isseis/go-obfuhook/internal/config"
	"github.com/isseis/go-obfuhook/internal/host"
	"github.com/isseis/go-obfuhook/internal/logging"
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/isseis/go-obfuhook/internal/plugin"
	"github.com/isseis/go-obfuhook/internal/safefileio"
	"github.com/isseis/go-obfuhook/internal/terminal"
	"github.com/isseis/go-obfuhook/internal/view"
	"github.com/spf13/cobra"
)

// Error definitions
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNoFunction     = errors.New("no function at address")
	ErrRawArchNeeded  = errors.New("raw image requires --arch")
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath  string
	logLevel    string
	logDir      string
	backend     string
	patchDir    string
	sqlitePath  string
	rawArch     string
	rawBase     string
	policy      string
	interactive bool
	quiet       bool
	color       bool
	noColor     bool
}

// app is the state built once per invocation.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	host    *host.Host
	plugin  *plugin.Plugin
	closers []io.Closer
	flags   *globalFlags

	// previous is the slog default replaced by this run's logger.
	previous *slog.Logger
}

func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	overrideConfig(cmd, cfg, flags)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Setup(logging.Options{
		Level:   level,
		Console: cmd.ErrOrStderr(),
		Terminal: terminal.Detect(terminal.Options{
			ForceInteractive:    flags.interactive,
			ForceNonInteractive: flags.quiet,
			ForceColor:          flags.color,
			DisableColor:        flags.noColor,
		}),
		LogDir: cfg.Log.Dir,
	})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, flags: flags, closers: []io.Closer{logger}, previous: slog.Default()}
	slog.SetDefault(logger.Logger)

	persister, err := a.persister()
	if err != nil {
		a.close()
		return nil, err
	}

	a.host = host.New(nil, patch.NewRegistry(persister), logger.Logger)
	a.plugin, err = plugin.Init(a.host, plugin.Options{
		Architectures: cfg.Arch.Hook,
		Policy:        cfg.Policy(),
		Idioms:        cfg.Idioms(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	logger.Debug("Configured",
		slog.String("run_id", logger.RunID()),
		slog.String("backend", cfg.Patches.Backend),
		slog.String("policy", cfg.Pass.Policy))
	return a, nil
}

// overrideConfig applies flags the user set explicitly.
func overrideConfig(cmd *cobra.Command, cfg *config.Config, flags *globalFlags) {
	set := func(name string) bool { return cmd.Flags().Changed(name) }
	if set("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if set("log-dir") {
		cfg.Log.Dir = flags.logDir
	}
	if set("backend") {
		cfg.Patches.Backend = flags.backend
	}
	if set("patch-dir") {
		cfg.Patches.Dir = flags.patchDir
	}
	if set("sqlite-path") {
		cfg.Patches.SQLitePath = flags.sqlitePath
	}
	if set("policy") {
		cfg.Pass.Policy = flags.policy
	}
}

func (a *app) persister() (patch.Persister, error) {
	switch a.cfg.Patches.Backend {
	case config.BackendSQLite:
		p, err := patch.NewSQLitePersister(a.cfg.Patches.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		return p, nil
	case config.BackendMemory:
		return patch.NewMemoryPersister(), nil
	default:
		return patch.NewFilePersister(a.cfg.Patches.Dir)
	}
}

func (a *app) close() {
	if a.host != nil {
		a.host.Shutdown()
	}
	if a.previous != nil {
		slog.SetDefault(a.previous)
		a.previous = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: close failed: %v\n", err)
		}
	}
	a.closers = nil
}

// openView loads path as an ELF image, or as raw code when --arch is set.
// A file that is not ELF needs --arch.
// The view's saved patches are loaded; a corrupt record is logged and the
// view starts without patches.
func (a *app) openView(path string) (*view.View, error) {
	data, err := safefileio.SafeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	isELF := bytes.HasPrefix(data, elfMagic)
	if !isELF && a.flags.rawArch == "" {
		return nil, fmt.Errorf("%w: %s is not an ELF file", ErrRawArchNeeded, path)
	}

	var v *view.View
	if a.flags.rawArch != "" {
		base, err := parseAddress(a.flags.rawBase)
		if err != nil {
			return nil, err
		}
		v, err = view.NewRaw(data, base, a.flags.rawArch, a.host.Architectures)
		if err != nil {
			return nil, err
		}
	} else {
		v, err = view.LoadELF(data, path, a.host.Architectures)
		if err != nil {
			return nil, err
		}
	}

	if err := a.host.Patches.Load(v.ID()); err != nil {
		a.logger.Warn("Ignoring unreadable saved patches", slog.Any("error", err))
	}
	return v, nil
}

// functions resolves the --function addresses, defaulting to the entry
// point.
func (a *app) functions(v *view.View, addrs []string) ([]*view.Function, error) {
	if len(addrs) == 0 {
		addrs = []string{strconv.FormatUint(v.Entry(), 10)}
	}
	out := make([]*view.Function, 0, len(addrs))
	for _, s := range addrs {
		addr, err := parseAddress(s)
		if err != nil {
			return nil, err
		}
		fn, err := v.FunctionOrAdd(addr)
		if err != nil {
			return nil, fmt.Errorf("%w %#x: %w", ErrNoFunction, addr, err)
		}
		out = append(out, fn)
	}
	return out, nil
}

// parseAddress accepts decimal, 0x-prefixed hex and 0o/0b forms.
func parseAddress(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return v, nil
}
