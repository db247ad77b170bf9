//go:build test

package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func tty(b bool) func() bool {
	return func() bool { return b }
}

func TestDetect_Interactive(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want bool
	}{
		{name: "terminal", opts: Options{IsTerminal: tty(true)}, want: true},
		{name: "pipe", opts: Options{IsTerminal: tty(false)}, want: false},
		{name: "github actions", opts: Options{LookupEnv: env(map[string]string{"GITHUB_ACTIONS": "true"}), IsTerminal: tty(true)}, want: false},
		{name: "CI=true", opts: Options{LookupEnv: env(map[string]string{"CI": "true"}), IsTerminal: tty(true)}, want: false},
		{name: "CI=false", opts: Options{LookupEnv: env(map[string]string{"CI": "false"}), IsTerminal: tty(true)}, want: true},
		{name: "empty CI", opts: Options{LookupEnv: env(map[string]string{"CI": ""}), IsTerminal: tty(true)}, want: true},
		{name: "forced over CI", opts: Options{ForceInteractive: true, LookupEnv: env(map[string]string{"CI": "1"}), IsTerminal: tty(false)}, want: true},
		{name: "forced off", opts: Options{ForceNonInteractive: true, IsTerminal: tty(true)}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.opts.LookupEnv == nil {
				tt.opts.LookupEnv = env(nil)
			}
			assert.Equal(t, tt.want, Detect(tt.opts).Interactive)
		})
	}
}

func TestDetect_Color(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		tty  bool
		opts Options
		want bool
	}{
		{name: "xterm", vars: map[string]string{"TERM": "xterm-256color"}, tty: true, want: true},
		{name: "dumb", vars: map[string]string{"TERM": "dumb"}, tty: true, want: false},
		{name: "unknown term", vars: map[string]string{"TERM": "mystery"}, tty: true, want: false},
		{name: "pipe", vars: map[string]string{"TERM": "xterm"}, tty: false, want: false},
		{name: "NO_COLOR empty", vars: map[string]string{"TERM": "xterm", "NO_COLOR": ""}, tty: true, want: false},
		{name: "CLICOLOR=0", vars: map[string]string{"TERM": "xterm", "CLICOLOR": "0"}, tty: true, want: false},
		{name: "CLICOLOR_FORCE in pipe", vars: map[string]string{"CLICOLOR_FORCE": "1", "NO_COLOR": "1"}, tty: false, want: true},
		{name: "flag forces", tty: false, opts: Options{ForceColor: true}, want: true},
		{name: "flag disables", vars: map[string]string{"CLICOLOR_FORCE": "1"}, tty: true, opts: Options{DisableColor: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.LookupEnv = env(tt.vars)
			opts.IsTerminal = tty(tt.tty)
			assert.Equal(t, tt.want, Detect(opts).Color)
		})
	}
}
