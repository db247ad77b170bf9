package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/isseis/go-obfuhook/internal/arch"
	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/patch"
	"github.com/isseis/go-obfuhook/internal/safefileio"
	"github.com/isseis/go-obfuhook/internal/tokenstream"
	"github.com/isseis/go-obfuhook/internal/view"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Error definitions
var (
	ErrPatchNotFound     = errors.New("no patch at address")
	ErrUnknownFormat     = errors.New("unknown output format")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrUnknownRegister   = errors.New("unknown register")
	ErrInvalidTokenEntry = errors.New("token entry must set exactly one of operand, register or op")
)

// Output formats of "patches list".
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

func newPatchesCmd(current func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patches",
		Short: "Inspect and edit the persisted patches of an image",
	}
	cmd.AddCommand(newPatchesListCmd(current), newPatchesAddCmd(current), newPatchesRemoveCmd(current), newPatchesSchemaCmd())
	return cmd
}

// patchOutput is the listed form of one patch.
type patchOutput struct {
	Address string   `json:"address" yaml:"address"`
	Length  int      `json:"length" yaml:"length"`
	Tokens  int      `json:"tokens" yaml:"tokens"`
	IL      []string `json:"il" yaml:"il"`
}

func newPatchesListCmd(current func() *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list <image>",
		Short: "List the patches of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			v, err := a.openView(args[0])
			if err != nil {
				return err
			}
			names, err := v.DefaultArchitecture()
			if err != nil {
				return err
			}
			out := listPatches(a.host.Patches.Patches(v.ID()), names)
			return writePatches(cmd.OutOrStdout(), format, v.ID(), out)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format (table, yaml, json)")
	return cmd
}

func listPatches(patches []*patch.Patch, names llil.RegisterNamer) []patchOutput {
	out := make([]patchOutput, len(patches))
	for i, p := range patches {
		il := make([]string, len(p.Instructions()))
		for j, e := range p.Instructions() {
			il[j] = llil.Format(e, names)
		}
		out[i] = patchOutput{
			Address: fmt.Sprintf("%#x", p.Address),
			Length:  p.Length,
			Tokens:  p.TokenCount(),
			IL:      il,
		}
	}
	return out
}

func writePatches(w io.Writer, format string, id patch.ViewID, out []patchOutput) error {
	switch format {
	case formatTable:
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.SetTitle(string(id))
		tw.AppendHeader(table.Row{"Address", "Length", "Tokens", "IL"})
		for _, p := range out {
			tw.AppendRow(table.Row{p.Address, p.Length, p.Tokens, strings.Join(p.IL, "; ")})
		}
		tw.AppendFooter(table.Row{"Total", len(out)})
		tw.Render()
		return nil
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func newPatchesRemoveCmd(current func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <image> <address>",
		Short: "Remove the patch at an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			v, err := a.openView(args[0])
			if err != nil {
				return err
			}
			addr, err := parseAddress(args[1])
			if err != nil {
				return err
			}
			if !a.host.Patches.RemovePatch(v.ID(), addr) {
				return fmt.Errorf("%w %#x", ErrPatchNotFound, addr)
			}
			if err := a.host.Patches.Save(v.ID()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed patch at %#x\n", addr)
			return nil
		},
	}
}

// patchFile is the YAML document read by "patches add".
type patchFile struct {
	Patches []patchEntry `json:"patches" yaml:"patches" jsonschema:"title=Patches,description=Patches to add to the image"`
}

// patchEntry describes one patch. Length defaults to the length of the
// instruction decoded at Address.
type patchEntry struct {
	Address uint64       `json:"address" yaml:"address" jsonschema:"title=Address,description=Address of the first replaced instruction"`
	Length  int          `json:"length,omitempty" yaml:"length" jsonschema:"title=Length,description=Byte length of the replaced instructions,minimum=0"`
	Tokens  []tokenEntry `json:"tokens" yaml:"tokens" jsonschema:"title=Tokens,description=Postfix token list of the replacement IL,minItems=1"`
}

// tokenEntry is one step of the postfix token list: a literal operand, a
// register operand resolved by name, or an operation that closes a subtree
// of Count children.
type tokenEntry struct {
	Operand  *uint64 `json:"operand,omitempty" yaml:"operand" jsonschema:"title=Operand,description=Literal operand"`
	Register string  `json:"register,omitempty" yaml:"register" jsonschema:"title=Register,description=Register operand by name"`
	Op       string  `json:"op,omitempty" yaml:"op" jsonschema:"title=Operation,description=IL operation closing a subtree"`
	Count    int     `json:"count,omitempty" yaml:"count" jsonschema:"title=Count,description=Number of children of the operation,minimum=0"`
	Flags    uint32  `json:"flags,omitempty" yaml:"flags" jsonschema:"title=Flags,description=Flag write class of the operation"`
	Size     int     `json:"size,omitempty" yaml:"size" jsonschema:"title=Size,description=Operand size in bytes,minimum=0"`
}

func newPatchesAddCmd(current func() *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add <image>",
		Short: "Add patches described by a YAML token file",
		Example: `  # Replace "xor eax, eax" at 0x1000 with eax = 0
  patches:
    - address: 0x1000
      tokens:
        - register: eax
        - operand: 0
        - op: const
          count: 1
          size: 4
        - op: set_reg
          count: 2
          size: 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := current()
			v, err := a.openView(args[0])
			if err != nil {
				return err
			}
			data, err := safefileio.SafeReadFile(file)
			if err != nil {
				return err
			}
			var doc patchFile
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to parse %s: %w", file, err)
			}

			for _, e := range doc.Patches {
				p, err := addPatch(a.host.Patches, v, e)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added patch at %#x (%d tokens)\n", p.Address, p.TokenCount())
			}
			return a.host.Patches.Save(v.ID())
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file describing the patches")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func addPatch(patches *patch.Registry, v *view.View, e patchEntry) (*patch.Patch, error) {
	a, err := v.DefaultArchitecture()
	if err != nil {
		return nil, err
	}
	tokens, err := buildTokens(a, e.Tokens)
	if err != nil {
		return nil, fmt.Errorf("patch at %#x: %w", e.Address, err)
	}
	length := e.Length
	if length == 0 {
		length, err = v.InstructionLength(a, e.Address)
		if err != nil {
			return nil, err
		}
	}
	return patches.AddPatch(v.ID(), e.Address, length, tokens)
}

func buildTokens(a arch.Architecture, entries []tokenEntry) ([]tokenstream.Token, error) {
	s := tokenstream.New(nil)
	for i, e := range entries {
		switch {
		case e.Operand != nil && e.Register == "" && e.Op == "":
			s.AppendOperand(*e.Operand)
		case e.Operand == nil && e.Register != "" && e.Op == "":
			r, ok := a.RegisterByName(e.Register)
			if !ok {
				return nil, fmt.Errorf("token %d: %w %q", i, ErrUnknownRegister, e.Register)
			}
			s.AppendOperand(uint64(r))
		case e.Operand == nil && e.Register == "" && e.Op != "":
			op, ok := llil.OperationByName(e.Op)
			if !ok {
				return nil, fmt.Errorf("token %d: %w %q", i, ErrUnknownOperation, e.Op)
			}
			s.AppendOperation(op, e.Count, e.Flags, e.Size)
		default:
			return nil, fmt.Errorf("token %d: %w", i, ErrInvalidTokenEntry)
		}
	}
	return s.Tokens(), nil
}

func newPatchesSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "schema",
		Short:       "Print the JSON schema of the patches add file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noAppAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			reflector := new(jsonschema.Reflector)
			bts, err := json.MarshalIndent(reflector.Reflect(&patchFile{}), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
