// Package gridfile loads and saves grids. A grid file is either a YAML
// document or an xlsx workbook.
package gridfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
)

// ErrUnsupportedFormat is returned for file extensions gridfile cannot read
// or write
var ErrUnsupportedFormat = errors.New("unsupported grid file format")

// Document is the YAML form of a grid. Rows is a block of raw values whose
// top-left cell is Origin; Cells maps A1 references to raw values and wins
// over Rows where both name the same cell.
//
//	origin: A1
//	rows:
//	  - [Item, Qty, Price]
//	  - [Apple, 3, 0.5]
//	cells:
//	  D2: =B2*C2
type Document struct {
	Origin string            `yaml:"origin,omitempty"`
	Rows   [][]string        `yaml:"rows,omitempty"`
	Cells  map[string]string `yaml:"cells,omitempty"`
}

// Grid builds the grid the document describes
func (d *Document) Grid() (formula.GridData, error) {
	origin := formula.CellCoord{}
	if d.Origin != "" {
		c, err := formula.RefToCoord(d.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", d.Origin, err)
		}
		origin = c
	}

	grid := make(formula.GridData)
	for i, row := range d.Rows {
		for j, raw := range row {
			coord := formula.CellCoord{Row: origin.Row + i, Col: origin.Col + j}
			if coord.Row >= formula.MaxRows || coord.Col >= formula.MaxColumns {
				return nil, fmt.Errorf("row %d column %d lies outside the sheet", i+1, j+1)
			}
			grid.SetRaw(coord, raw)
		}
	}
	for ref, raw := range d.Cells {
		coord, err := formula.RefToCoord(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid cell %q: %w", ref, err)
		}
		grid.SetRaw(coord, raw)
	}
	return grid, nil
}

// Decode parses a YAML grid document. unknown keys are rejected so that a
// typo such as "cell:" fails loudly.
func Decode(data []byte) (formula.GridData, error) {
	var doc Document
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse grid: %w", err)
	}
	return doc.Grid()
}

// Encode writes grid as a YAML document with one "cells" entry per
// populated cell, in row order. with withDisplay set, each formula cell
// carries its display value as a line comment.
func Encode(grid formula.GridData, withDisplay bool) ([]byte, error) {
	cells := &yaml.Node{Kind: yaml.MappingNode}
	for _, coord := range grid.Coords() {
		cell := grid[formula.KeyOf(coord)]
		value := scalarNode(cell.RawValue)
		if withDisplay && formula.IsFormula(cell.RawValue) {
			value.LineComment = cell.DisplayValue
		}
		cells.Content = append(cells.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: coord.String()},
			value,
		)
	}

	doc := &yaml.Node{Kind: yaml.MappingNode}
	if len(cells.Content) > 0 {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "cells"},
			cells,
		)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode grid: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode grid: %w", err)
	}
	return buf.Bytes(), nil
}

// scalarNode keeps numbers and booleans plain and forces everything else to
// a string so that raw text like "null" survives a round trip
func scalarNode(raw string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.ScalarNode, Value: raw}
	if formula.IsFormula(raw) {
		return node
	}
	switch formula.ParseLiteral(raw).(type) {
	case float64, bool:
	default:
		node.Tag = "!!str"
	}
	return node
}

// Load reads a grid from path. the format follows the extension; sheet
// picks the worksheet of a workbook and is ignored for YAML.
func Load(path, sheet string) (formula.GridData, error) {
	switch format(path) {
	case formatYAML:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read grid: %w", err)
		}
		return Decode(data)
	case formatXLSX:
		return LoadXLSX(path, sheet)
	}
	return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// Save writes grid to path in the format its extension names
func Save(path, sheet string, grid formula.GridData) error {
	switch format(path) {
	case formatYAML:
		data, err := Encode(grid, true)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write grid: %w", err)
		}
		return nil
	case formatXLSX:
		return SaveXLSX(path, sheet, grid)
	}
	return fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatYAML
	formatXLSX
)

func format(path string) fileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	case ".xlsx", ".xlsm":
		return formatXLSX
	}
	return formatUnknown
}
