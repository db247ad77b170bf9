package main

import (
	"context"
	"io"

	"github.com/isseis/go-obfuhook/internal/config"
	"github.com/spf13/cobra"
)

// execute runs the command line args and releases everything the command
// opened, whether or not it succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd, closeApp := newRootCmd()
	defer closeApp()

	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd() (*cobra.Command, func()) {
	flags := &globalFlags{}
	var a *app

	rootCmd := &cobra.Command{
		Use:   "obfuhook",
		Short: "Remove junk-code obfuscation from x86 functions",
		Long: `obfuhook lifts the functions of an ELF image (or raw code) to a low level IL,
finds obfuscation idioms whose net effect is nothing, and records address-keyed
patches that replace them with no-ops. Patches are persisted per image and are
applied every time the image is decoded again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[noAppAnnotation] != "" {
				return nil
			}
			var err error
			a, err = newApp(cmd, flags)
			return err
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Path to the TOML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logDir, "log-dir", "", "Directory that receives a JSON log file per run")
	pf.StringVar(&flags.backend, "backend", config.DefaultBackend, "Patch store backend (file, sqlite, memory)")
	pf.StringVar(&flags.patchDir, "patch-dir", config.DefaultPatchDir, "Directory of the file patch store")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", config.DefaultSQLitePath, "Database of the sqlite patch store")
	pf.StringVar(&flags.policy, "policy", "", "Conflict policy (first-match, longest-match)")
	pf.StringVar(&flags.rawArch, "arch", "", "Treat the input as raw code for this architecture (x86, x86_64)")
	pf.StringVar(&flags.rawBase, "base", "0", "Load address of raw code")
	pf.BoolVar(&flags.interactive, "interactive", false, "Force interactive console output")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Force plain, non-interactive console output")
	pf.BoolVar(&flags.color, "color", false, "Force colored output")
	pf.BoolVar(&flags.noColor, "no-color", false, "Disable colored output")
	rootCmd.MarkFlagsMutuallyExclusive("interactive", "quiet")
	rootCmd.MarkFlagsMutuallyExclusive("color", "no-color")

	current := func() *app { return a }
	rootCmd.AddCommand(
		newFixCmd(current),
		newPatchesCmd(current),
		newDisasmCmd(current),
		newBranchesCmd(current),
		newCommandsCmd(current),
		newVersionCmd(),
	)
	return rootCmd, func() {
		if a != nil {
			a.close()
		}
	}
}
