package formula

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnNames(t *testing.T) {
	tests := []struct {
		col  int
		name string
	}{
		{0, "A"},
		{25, "Z"},
		{26, "AA"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{MaxColumns - 1, "XFD"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.name, ColumnName(tt.col))
		got, err := ColumnIndex(tt.name)
		require.NoError(t, err)
		assert.Equal(t, tt.col, got)
	}

	got, err := ColumnIndex("xfd")
	require.NoError(t, err)
	assert.Equal(t, MaxColumns-1, got)

	_, err = ColumnIndex("XFE")
	assert.Error(t, err)
	assert.Equal(t, "", ColumnName(-1))
}

func TestCellRefRoundTrip(t *testing.T) {
	for _, ref := range []string{"A1", "$B$2", "C$3", "$D4", "XFD1048576", "AA10"} {
		parsed, err := ParseCellRef(ref)
		require.NoError(t, err, ref)
		assert.Equal(t, ref, parsed.String())
	}

	parsed, err := ParseCellRef("c$3")
	require.NoError(t, err)
	assert.Equal(t, CellRef{Coord: CellCoord{Row: 2, Col: 2}, AbsoluteRow: true}, parsed)
	assert.Equal(t, "C$3", parsed.String())
}

func TestCellRefErrors(t *testing.T) {
	for _, ref := range []string{"", "1A", "A", "A0", "A1048577", "XFE1", "A1B", "$$A1", "A-1"} {
		_, err := ParseCellRef(ref)
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr, ref)
		assert.True(t, parseErr.Ref, ref)
	}
}

func TestCoordConversions(t *testing.T) {
	coord, err := RefToCoord("$C$5")
	require.NoError(t, err)
	assert.Equal(t, CellCoord{Row: 4, Col: 2}, coord)
	assert.Equal(t, "C5", coord.String())
	assert.Equal(t, "B3", CoordToRef(2, 1))

	key := coord.Key()
	assert.Equal(t, CellKey("4:2"), key)
	assert.Equal(t, coord, key.Coord())

	_, err = ParseKey("4")
	assert.Error(t, err)
	_, err = ParseKey("x:1")
	assert.Error(t, err)
	_, err = ParseKey("1:-2")
	assert.Error(t, err)

	assert.True(t, CellCoord{Row: 0, Col: 5}.Less(CellCoord{Row: 1, Col: 0}))
	assert.True(t, CellCoord{Row: 1, Col: 0}.Less(CellCoord{Row: 1, Col: 1}))
	assert.False(t, CellCoord{Row: 1, Col: 1}.Less(CellCoord{Row: 1, Col: 1}))
}

func TestSelectionRange(t *testing.T) {
	r, err := ParseRangeRef("C3:A1")
	require.NoError(t, err)
	assert.Equal(t, "A1:C3", r.String())
	assert.Equal(t, 3, r.Rows())
	assert.Equal(t, 3, r.Cols())
	assert.True(t, r.Contains(CellCoord{Row: 1, Col: 1}))
	assert.False(t, r.Contains(CellCoord{Row: 3, Col: 0}))

	// corners given in any order still normalize
	raw := SelectionRange{Start: CellCoord{Row: 1, Col: 0}, End: CellCoord{Row: 0, Col: 1}}
	assert.Equal(t, SelectionRange{Start: CellCoord{0, 0}, End: CellCoord{1, 1}}, raw.Normalize())
	assert.Equal(t, coordsOf("A1", "B1", "A2", "B2"), slices.Collect(raw.Cells()))

	single, err := ParseRangeRef("$B$2")
	require.NoError(t, err)
	assert.Equal(t, 1, single.Rows())
	assert.Equal(t, "B2:B2", single.String())

	_, err = ParseRangeRef("A1:B0")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 4, parseErr.Pos)
}
