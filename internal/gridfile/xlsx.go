package gridfile

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
)

// DefaultSheet is the worksheet name used when writing a workbook without
// an explicit sheet
const DefaultSheet = "Sheet1"

// LoadXLSX reads one worksheet of a workbook into a grid. formula cells
// keep their formula text; every other cell keeps its formatted value. an
// empty sheet name selects the active sheet.
func LoadXLSX(path, sheet string) (formula.GridData, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("workbook has no sheet %q", sheet)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	grid := make(formula.GridData)
	for r, row := range rows {
		for c, value := range row {
			if r >= formula.MaxRows || c >= formula.MaxColumns {
				continue
			}
			coord := formula.CellCoord{Row: r, Col: c}
			raw := value
			expr, err := f.GetCellFormula(sheet, coord.String())
			if err != nil {
				return nil, fmt.Errorf("failed to read formula at %s: %w", coord, err)
			}
			if expr != "" {
				raw = "=" + strings.TrimPrefix(expr, "=")
			}
			grid.SetRaw(coord, raw)
		}
	}
	return grid, nil
}

// SaveXLSX writes grid to a new workbook with a single sheet. formula cells
// are stored as formulas with their current display as the cached value.
func SaveXLSX(path, sheet string, grid formula.GridData) error {
	if sheet == "" {
		sheet = DefaultSheet
	}
	f := excelize.NewFile()
	defer f.Close()
	if sheet != DefaultSheet {
		if err := f.SetSheetName(DefaultSheet, sheet); err != nil {
			return fmt.Errorf("failed to name sheet: %w", err)
		}
	}

	for _, coord := range grid.Coords() {
		cell := grid[formula.KeyOf(coord)]
		addr, err := excelize.CoordinatesToCellName(coord.Col+1, coord.Row+1)
		if err != nil {
			return fmt.Errorf("failed to address %s: %w", coord, err)
		}
		expr, isFormula := strings.CutPrefix(cell.RawValue, "=")
		if !isFormula {
			if err := f.SetCellValue(sheet, addr, xlsxValue(formula.ParseLiteral(cell.RawValue))); err != nil {
				return fmt.Errorf("failed to write %s: %w", addr, err)
			}
			continue
		}
		// the cached value goes first: setting a value clears a formula
		if err := f.SetCellValue(sheet, addr, xlsxValue(formula.ParseLiteral(cell.DisplayValue))); err != nil {
			return fmt.Errorf("failed to write %s: %w", addr, err)
		}
		if err := f.SetCellFormula(sheet, addr, expr); err != nil {
			return fmt.Errorf("failed to write formula at %s: %w", addr, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// xlsxValue maps a scalar to what excelize stores; empty cells become ""
func xlsxValue(v formula.Primitive) any {
	if v == nil {
		return ""
	}
	return v
}
