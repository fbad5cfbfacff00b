package cli

import (
	"fmt"
	"io"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/spf13/cobra"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
)

// FunctionInfo is one entry of the funcs listing
type FunctionInfo struct {
	Name     string `json:"name"`
	Volatile bool   `json:"volatile,omitempty"`
}

// NewFuncsCommand creates the funcs command.
func NewFuncsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "funcs [pattern]",
		Short: "List the built-in functions",
		Long: `List the functions formulas can call. A pattern narrows the list to
names containing its letters in order, ignoring case.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			return runFuncs(rootOpts, formula.NewBuiltinRegistry(), pattern, cmd.OutOrStdout())
		},
	}
	return cmd
}

func runFuncs(rootOpts *RootOptions, registry *formula.Registry, pattern string, w io.Writer) error {
	names := registry.Names()
	if pattern != "" {
		names = fuzzy.FindFold(pattern, names)
	}

	infos := make([]FunctionInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, FunctionInfo{Name: name, Volatile: registry.IsVolatile(name)})
	}

	return newFormatter(rootOpts, w).Success(infos, func(w io.Writer) error {
		for _, info := range infos {
			line := info.Name
			if info.Volatile {
				line += " (volatile)"
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
		return nil
	})
}
