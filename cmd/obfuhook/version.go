package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// noAppAnnotation marks commands that run without loading configuration.
const noAppAnnotation = "obfuhook/no-app"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noAppAnnotation: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			v := version
			if info, ok := debug.ReadBuildInfo(); ok && v == "dev" && info.Main.Version != "" {
				v = info.Main.Version
			}
			fmt.Fprintf(cmd.OutOrStdout(), "obfuhook %s\n", v)
		},
	}
}
