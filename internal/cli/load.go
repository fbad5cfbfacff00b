package cli

import (
	"fmt"
	"strings"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/gridfile"
)

// CellResult is one cell as the CLI reports it
type CellResult struct {
	Ref     string           `json:"ref"`
	Raw     string           `json:"raw"`
	Display string           `json:"display"`
	Type    formula.CellType `json:"type"`
	Error   string           `json:"error,omitempty"`
}

// loadSheet reads path into a computed sheet and applies each "A1=raw"
// override as a cell edit
func loadSheet(opts *RootOptions, path, sheetName string, overrides []string) (*formula.Sheet, error) {
	grid, err := gridfile.Load(path, sheetName)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load "+path, err)
	}
	logger := opts.Logger()
	sheet := formula.NewSheetFromGrid(grid, formula.WithLogger(logger))
	logger.Debug("grid loaded", "path", path, "cells", len(grid))

	for _, o := range overrides {
		coord, raw, err := parseOverride(o)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --set", err)
		}
		updates := sheet.SetRaw(coord, raw)
		logger.Debug("override applied", "cell", coord.String(), "raw", raw, "updates", len(updates))
	}
	return sheet, nil
}

// parseOverride splits "A1=raw" at the first "=", so "B2==A1*2" sets a
// formula
func parseOverride(s string) (formula.CellCoord, string, error) {
	ref, raw, ok := strings.Cut(s, "=")
	if !ok {
		return formula.CellCoord{}, "", fmt.Errorf("%q is not of the form REF=VALUE", s)
	}
	coord, err := formula.RefToCoord(strings.TrimSpace(ref))
	if err != nil {
		return formula.CellCoord{}, "", fmt.Errorf("%q: %w", s, err)
	}
	return coord, raw, nil
}

// resolveRefs decodes references given on the command line
func resolveRefs(refs []string) ([]formula.CellCoord, error) {
	coords := make([]formula.CellCoord, 0, len(refs))
	for _, ref := range refs {
		coord, err := formula.RefToCoord(ref)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid reference %q", ref), err)
		}
		coords = append(coords, coord)
	}
	return coords, nil
}

func cellResult(sheet *formula.Sheet, coord formula.CellCoord) CellResult {
	cell := sheet.Grid()[formula.KeyOf(coord)]
	res := CellResult{
		Ref:     coord.String(),
		Raw:     cell.RawValue,
		Display: cell.DisplayValue,
		Type:    cell.Type,
	}
	if errVal, ok := sheet.Engine().Value(coord).(*formula.SpreadsheetError); ok && errVal != nil {
		res.Error = errVal.Message
	}
	return res
}

func cellResults(sheet *formula.Sheet, coords []formula.CellCoord) []CellResult {
	results := make([]CellResult, 0, len(coords))
	for _, coord := range coords {
		results = append(results, cellResult(sheet, coord))
	}
	return results
}
