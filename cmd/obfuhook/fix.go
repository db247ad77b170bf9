package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/isseis/go-obfuhook/internal/deobf"
	"github.com/isseis/go-obfuhook/internal/task"
	"github.com/isseis/go-obfuhook/internal/view"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newFixCmd(current func() *app) *cobra.Command {
	var (
		functions  []string
		background bool
	)
	cmd := &cobra.Command{
		Use:   "fix <image>",
		Short: "Patch obfuscation idioms out of functions",
		Long: `Run the obfuscation pass over the given functions (the entry point by default)
and persist the resulting patches for the image.`,
		Example: `  obfuhook fix ./sample
  obfuhook fix --arch x86 --base 0x1000 --function 0x1000 code.bin
  obfuhook fix --background --function 0x401000 --function 0x401200 ./sample`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			v, err := a.openView(args[0])
			if err != nil {
				return err
			}
			fns, err := a.functions(v, functions)
			if err != nil {
				return err
			}
			if background {
				return runBackground(cmd, a, fns)
			}
			return runForeground(cmd, a, fns)
		},
	}
	cmd.Flags().StringSliceVarP(&functions, "function", "f", nil, "Function start address (repeatable)")
	cmd.Flags().BoolVarP(&background, "background", "b", false, "Run each function as a background task")
	return cmd
}

func runForeground(cmd *cobra.Command, a *app, fns []*view.Function) error {
	results := make([]*deobf.Result, 0, len(fns))
	var errs []error
	for _, fn := range fns {
		res, err := a.plugin.FixForeground(cmd.Context(), fn)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("function %#x: %w", fn.Start(), err))
		}
	}
	writeResults(cmd.OutOrStdout(), results)
	return errors.Join(errs...)
}

func runBackground(cmd *cobra.Command, a *app, fns []*view.Function) error {
	tasks := make([]*task.Task, 0, len(fns))
	for _, fn := range fns {
		t, err := a.plugin.FixInBackground(fn)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
	}

	stop := context.AfterFunc(cmd.Context(), func() {
		for _, t := range tasks {
			t.Cancel()
		}
	})
	defer stop()

	var errs []error
	for _, t := range tasks {
		if err := t.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Key(), err))
		}
	}
	writeTasks(cmd.OutOrStdout(), tasks)
	return errors.Join(errs...)
}

func writeResults(w io.Writer, results []*deobf.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Function", "State", "Matches", "Patched", "Rejected", "Rounds", "Saved"})
	for _, r := range results {
		tw.AppendRow(table.Row{
			fmt.Sprintf("%#x", r.Function), r.State, len(r.Matches), r.Patched(), r.Rejected, r.Rounds, r.Saved,
		})
	}
	tw.Render()
}

func writeTasks(w io.Writer, tasks []*task.Task) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Task", "Key", "Status", "Progress", "Elapsed"})
	for _, t := range tasks {
		p := t.Progress()
		tw.AppendRow(table.Row{t.ID(), t.Key(), t.Status(), fmt.Sprintf("%d%% %s", p.Percent, p.Text), t.Elapsed().Round(time.Millisecond)})
	}
	tw.Render()
}
