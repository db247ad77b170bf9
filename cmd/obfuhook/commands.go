package main

import (
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newCommandsCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List and invoke the registered function commands",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the registered function commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Command", "Description"})
			for _, c := range current().host.Commands() {
				tw.AppendRow(table.Row{c.Label, c.Description})
			}
			tw.Render()
			return nil
		},
	}

	var functions []string
	run := &cobra.Command{
		Use:     "run <label> <image>",
		Short:   "Invoke a function command",
		Example: `  obfuhook commands run "Fix Obfuscation (foreground)" --function 0x401000 ./sample`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			v, err := a.openView(args[1])
			if err != nil {
				return err
			}
			fns, err := a.functions(v, functions)
			if err != nil {
				return err
			}
			var errs []error
			for _, fn := range fns {
				if err := a.host.Invoke(cmd.Context(), args[0], fn); err != nil {
					errs = append(errs, fmt.Errorf("function %#x: %w", fn.Start(), err))
				}
			}
			// Background commands return once their task has started; task
			// failures are logged by the manager.
			a.host.Tasks.Wait()
			return errors.Join(errs...)
		},
	}
	run.Flags().StringSliceVarP(&functions, "function", "f", nil, "Function start address (repeatable)")

	cmd.AddCommand(list, run)
	return cmd
}
