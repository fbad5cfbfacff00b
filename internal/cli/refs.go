package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
)

// RefsResult describes how one cell is wired into the dependency graph
type RefsResult struct {
	Ref        string   `json:"ref"`
	Raw        string   `json:"raw"`
	Display    string   `json:"display"`
	References []string `json:"references"`
	Functions  []string `json:"functions"`
	Precedents []string `json:"precedents"`
	Dependents []string `json:"dependents"`
}

// NewRefsCommand creates the refs command.
func NewRefsCommand(rootOpts *RootOptions) *cobra.Command {
	var sheetName string

	cmd := &cobra.Command{
		Use:   "refs <grid-file> <ref>",
		Short: "Show what a cell reads and what reads it",
		Long: `Print the references and functions of the formula at a cell, the
cells it depends on directly, and the formula cells that depend on it.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefs(rootOpts, sheetName, args[0], args[1], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read from a workbook (default: active sheet)")

	return cmd
}

func runRefs(rootOpts *RootOptions, sheetName, path, ref string, w io.Writer) error {
	formatter := newFormatter(rootOpts, w)

	sheet, err := loadSheet(rootOpts, path, sheetName, nil)
	if err != nil {
		return formatter.Error(GetExitCode(err), "refs failed", err)
	}
	coords, err := resolveRefs([]string{ref})
	if err != nil {
		return formatter.Error(ExitCommandError, "refs failed", err)
	}

	result := describeRefs(sheet, coords[0])
	return formatter.Success(result, func(w io.Writer) error {
		return writeRefs(w, result)
	})
}

func describeRefs(sheet *formula.Sheet, coord formula.CellCoord) RefsResult {
	engine := sheet.Engine()
	cell := cellResult(sheet, coord)
	result := RefsResult{
		Ref:        cell.Ref,
		Raw:        cell.Raw,
		Display:    cell.Display,
		References: []string{},
		Functions:  []string{},
		Precedents: refStrings(engine.Precedents(coord)),
		Dependents: refStrings(engine.Dependents(coord)),
	}
	if node, err := formula.ParseFormula(cell.Raw); err == nil {
		cells, ranges := formula.References(node)
		for _, c := range cells {
			result.References = append(result.References, c.String())
		}
		for _, r := range ranges {
			result.References = append(result.References, r.String())
		}
		result.Functions = append(result.Functions, formula.Functions(node)...)
	}
	return result
}

func refStrings(coords []formula.CellCoord) []string {
	out := make([]string, 0, len(coords))
	for _, c := range coords {
		out = append(out, c.String())
	}
	return out
}

func writeRefs(w io.Writer, r RefsResult) error {
	list := func(items []string) string {
		if len(items) == 0 {
			return "-"
		}
		return strings.Join(items, " ")
	}
	_, err := fmt.Fprintf(w,
		"cell:       %s\nraw:        %s\nvalue:      %s\nreferences: %s\nfunctions:  %s\nprecedents: %s\ndependents: %s\n",
		r.Ref, r.Raw, r.Display,
		list(r.References), list(r.Functions), list(r.Precedents), list(r.Dependents))
	return err
}
