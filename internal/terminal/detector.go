// Package terminal decides whether console output goes to a person at a
// terminal and whether it may be coloured.
package terminal

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ciEnvVars are set by common CI systems.
var ciEnvVars = []string{
	"CI",
	"CONTINUOUS_INTEGRATION",
	"GITHUB_ACTIONS",
	"TRAVIS",
	"CIRCLECI",
	"JENKINS_URL",
	"BUILD_NUMBER",
	"GITLAB_CI",
	"APPVEYOR",
	"BUILDKITE",
	"DRONE",
	"TF_BUILD",
}

// colorTerminals lists TERM values (or prefixes before "-") known to handle
// ANSI colours.
var colorTerminals = []string{
	"xterm", "screen", "tmux", "rxvt", "vt100", "vt220", "ansi", "linux", "cygwin", "putty",
}

// Options overrides detection. The Force/Disable pairs come from command
// line flags and take priority over the environment.
type Options struct {
	ForceInteractive    bool
	ForceNonInteractive bool
	ForceColor          bool
	DisableColor        bool

	// LookupEnv and IsTerminal default to the process environment and
	// stdout/stderr.
	LookupEnv  func(string) (string, bool)
	IsTerminal func() bool
}

// Capabilities is the outcome of detection.
type Capabilities struct {
	Interactive bool
	Color       bool
}

// Detect resolves the console capabilities of the current process.
func Detect(opts Options) Capabilities {
	d := detector{opts: opts}
	if d.opts.LookupEnv == nil {
		d.opts.LookupEnv = os.LookupEnv
	}
	if d.opts.IsTerminal == nil {
		d.opts.IsTerminal = stdTerminal
	}

	interactive := d.interactive()
	return Capabilities{Interactive: interactive, Color: d.color(interactive)}
}

type detector struct {
	opts Options
}

func (d detector) getenv(name string) string {
	v, _ := d.opts.LookupEnv(name)
	return v
}

// interactive applies flags first, then CI detection, then the tty check.
func (d detector) interactive() bool {
	if d.opts.ForceInteractive {
		return true
	}
	if d.opts.ForceNonInteractive {
		return false
	}
	if d.isCI() {
		return false
	}
	return d.opts.IsTerminal()
}

func (d detector) isCI() bool {
	for _, name := range ciEnvVars {
		v := d.getenv(name)
		if v == "" {
			continue
		}
		// CI=false and friends are not CI.
		if name == "CI" {
			return !isFalsy(v)
		}
		return true
	}
	return false
}

// color applies, in order: flags, CLICOLOR_FORCE, NO_COLOR, then CLICOLOR
// and TERM for interactive sessions only.
func (d detector) color(interactive bool) bool {
	if d.opts.ForceColor {
		return true
	}
	if d.opts.DisableColor {
		return false
	}
	if isTruthy(d.getenv("CLICOLOR_FORCE")) {
		return true
	}
	if _, set := d.opts.LookupEnv("NO_COLOR"); set {
		return false
	}
	if !interactive || !d.colorTerm() {
		return false
	}
	if v := d.getenv("CLICOLOR"); v != "" {
		return isTruthy(v)
	}
	return true
}

func (d detector) colorTerm() bool {
	t := strings.ToLower(strings.TrimSpace(d.getenv("TERM")))
	if t == "" || t == "dumb" {
		return false
	}
	for _, c := range colorTerminals {
		if t == c || strings.HasPrefix(t, c+"-") {
			return true
		}
	}
	return false
}

func stdTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func isFalsy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no":
		return true
	}
	return false
}
