package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/deobf"
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/view"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newDisasmCmd(current func() *app) *cobra.Command {
	var functions []string
	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Show functions as instructions and lifted IL",
		Long: `Print every instruction of the given functions next to the IL it lifts to.
Patched addresses show the replacement IL and are marked with "*".`,
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
			for _, fn := range fns {
				if err := writeDisasm(cmd.OutOrStdout(), a, v, fn); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&functions, "function", "f", nil, "Function start address (repeatable)")
	return cmd
}

func writeDisasm(w io.Writer, a *app, v *view.View, fn *view.Function) error {
	arc, err := fn.Architecture()
	if err != nil {
		return err
	}
	il, err := fn.LowLevelIL()
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("function %#x", fn.Start()))
	tw.AppendHeader(table.Row{"", "Address", "Instruction", "IL"})
	for _, addr := range il.Addresses() {
		text, _, err := v.InstructionText(arc, addr)
		if err != nil {
			return err
		}
		mark := ""
		if _, ok := a.host.Patches.Lookup(v.ID(), addr); ok {
			mark = "*"
		}
		lines := make([]string, 0, 1)
		for _, in := range il.InstructionsAt(addr) {
			lines = append(lines, llil.Format(in.Expr, arc))
		}
		tw.AppendRow(table.Row{mark, fmt.Sprintf("%#x", addr), arch.JoinText(text), strings.Join(lines, "\n")})
	}
	tw.Render()
	return nil
}

func newBranchesCmd(current func() *app) *cobra.Command {
	var functions []string
	cmd := &cobra.Command{
		Use:   "branches <image>",
		Short: "List indirect jumps and calls",
		Args:  cobra.ExactArgs(1),
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

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Function", "Address", "Kind"})
			for _, fn := range fns {
				branches, err := deobf.IndirectBranches(fn)
				if err != nil {
					return err
				}
				for _, b := range branches {
					kind := "jump"
					if b.Call {
						kind = "call"
					}
					tw.AppendRow(table.Row{fmt.Sprintf("%#x", fn.Start()), fmt.Sprintf("%#x", b.Address), kind})
				}
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&functions, "function", "f", nil, "Function start address (repeatable)")
	return cmd
}
