// Package sheets writes sparse grids of values to remote spreadsheets and
// reads them back.
//
// A spreadsheet is located by key or by title. Each logical sheet of input
// data is written to a worksheet of the same name, which is created when it
// does not exist. Cells are written with one batched query and one batched
// update per worksheet.
package sheets

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"golang.org/x/oauth2"
)

// A CellAddress locates a cell, 1-based, and optionally carries the value to
// write to it.
type CellAddress struct {
	Row  int
	Col  int
	Data string
}

// ID returns a's identifier in RnCn notation.
func (a CellAddress) ID() string {
	return "R" + strconv.Itoa(a.Row) + "C" + strconv.Itoa(a.Col)
}

func compareCellAddresses(a, b CellAddress) int {
	return cmp.Or(cmp.Compare(a.Row, b.Row), cmp.Compare(a.Col, b.Col))
}

// A Path locates a value in a Grid. All indexes are 0-based.
type Path struct {
	Sheet int
	Row   int
	Col   int
}

// A Grid is a sparse mapping from sheet, row, and column to a value.
type Grid map[Path]any

// Sheets returns the distinct sheet indexes in g in ascending order.
func (g Grid) Sheets() []int {
	var sheets []int
	for path := range g {
		if !slices.Contains(sheets, path.Sheet) {
			sheets = append(sheets, path.Sheet)
		}
	}
	slices.Sort(sheets)
	return sheets
}

// Table returns the values of sheet.
func (g Grid) Table(sheet int) Table {
	t := make(Table)
	for path, value := range g {
		if path.Sheet == sheet {
			t[Key{Row: path.Row, Col: path.Col}] = value
		}
	}
	return t
}

// Addresses returns the cell addresses of the values of sheet, ordered by row
// then column.
func (g Grid) Addresses(sheet int) []CellAddress {
	return g.Table(sheet).Addresses()
}

// A Key locates a value in a Table. Both indexes are 0-based.
type Key struct {
	Row int
	Col int
}

// A Table is a sparse mapping from row and column to a value.
type Table map[Key]any

// TableFromRows returns a Table with rows[i][j] at row i, column j. Empty
// strings are omitted.
func TableFromRows(rows [][]string) Table {
	t := make(Table)
	for i, row := range rows {
		for j, value := range row {
			if value != "" {
				t[Key{Row: i, Col: j}] = value
			}
		}
	}
	return t
}

// Addresses returns the cell addresses of the values in t, ordered by row then
// column. Nil values and negative indexes are skipped.
func (t Table) Addresses() []CellAddress {
	addresses := make([]CellAddress, 0, len(t))
	for key, value := range t {
		if value == nil || key.Row < 0 || key.Col < 0 {
			continue
		}
		addresses = append(addresses, CellAddress{
			Row:  key.Row + 1,
			Col:  key.Col + 1,
			Data: formatValue(value),
		})
	}
	slices.SortFunc(addresses, compareCellAddresses)
	return addresses
}

func formatValue(value any) string {
	switch value := value.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(value), 'f', -1, 32)
	default:
		return fmt.Sprint(value)
	}
}

// A Sheet is a named table to be written to the worksheet with the same name.
type Sheet struct {
	Name string
	Data Table
}

// A SheetNamer hands out the default names of sheets, Sheet1, Sheet2, and so
// on.
type SheetNamer struct {
	n int
}

// Next returns the next sheet name.
func (n *SheetNamer) Next() string {
	n.n++
	return "Sheet" + strconv.Itoa(n.n)
}

// NameSheets returns n default sheet names starting at Sheet{start}.
func NameSheets(n, start int) []string {
	namer := SheetNamer{n: start - 1}
	names := make([]string, n)
	for i := range names {
		names[i] = namer.Next()
	}
	return names
}

// A Locator identifies a spreadsheet by key or, if Key is empty, by title.
type Locator struct {
	Key   string
	Title string
}

func (l Locator) String() string {
	if l.Key != "" {
		return "key " + l.Key
	}
	return "title " + strconv.Quote(l.Title)
}

// Credentials authorize requests to the spreadsheet service. They are passed
// to every operation and never retained.
type Credentials struct {
	AccessToken string
	TokenSource oauth2.TokenSource // Takes precedence over AccessToken.
}

func (c Credentials) tokenSource() (oauth2.TokenSource, error) {
	switch {
	case c.TokenSource != nil:
		return c.TokenSource, nil
	case c.AccessToken != "":
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: c.AccessToken,
			TokenType:   "Bearer",
		}), nil
	default:
		return nil, fmt.Errorf("no credentials: %w", ErrUnauthorized)
	}
}
