package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/gridfile"
)

// EvalOptions holds the eval command's flags
type EvalOptions struct {
	Sheet  string
	Set    []string
	Output string
	Strict bool
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <grid-file> [ref...]",
		Short: "Compute a grid and print its cells",
		Long: `Compute every formula of a grid file and print the cells.

With refs, only those cells are printed. --set edits a cell after loading
and recomputes whatever depends on it; --output writes the computed grid
to a new YAML or xlsx file.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(rootOpts, opts, args[0], args[1:], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "worksheet to read from a workbook (default: active sheet)")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "set a cell before printing, e.g. --set B2=5 or --set C1==A1*2")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the computed grid to this file")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 if any printed cell holds an error")

	return cmd
}

func runEval(rootOpts *RootOptions, opts *EvalOptions, path string, refs []string, w io.Writer) error {
	formatter := newFormatter(rootOpts, w)

	sheet, err := loadSheet(rootOpts, path, opts.Sheet, opts.Set)
	if err != nil {
		return formatter.Error(GetExitCode(err), "eval failed", err)
	}

	coords := sheet.Grid().Coords()
	if len(refs) > 0 {
		if coords, err = resolveRefs(refs); err != nil {
			return formatter.Error(ExitCommandError, "eval failed", err)
		}
	}
	results := cellResults(sheet, coords)

	if opts.Output != "" {
		if err := gridfile.Save(opts.Output, opts.Sheet, sheet.Grid()); err != nil {
			return formatter.Error(ExitCommandError, "failed to write "+opts.Output, err)
		}
		rootOpts.Logger().Debug("grid written", "path", opts.Output)
	}

	if err := formatter.Success(results, func(w io.Writer) error {
		return writeCells(w, results)
	}); err != nil {
		return err
	}

	if opts.Strict {
		for _, res := range results {
			if res.Error != "" {
				return NewExitError(ExitFailure, fmt.Sprintf("%s evaluated to %s", res.Ref, res.Display))
			}
		}
	}
	return nil
}

// writeCells prints one tab-separated line per cell: ref, display and, for
// formulas, the formula text
func writeCells(w io.Writer, results []CellResult) error {
	for _, res := range results {
		var err error
		if formula.IsFormula(res.Raw) {
			_, err = fmt.Fprintf(w, "%s\t%s\t%s\n", res.Ref, res.Display, res.Raw)
		} else {
			_, err = fmt.Fprintf(w, "%s\t%s\n", res.Ref, res.Display)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
