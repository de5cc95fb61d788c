// Package screen provides read-only views over a character grid.
//
// Coordinates are 1-based (row 1, column 1 is the top-left cell), matching
// how users read positions off a mainframe screen. Out-of-range coordinates
// are clamped; no accessor panics.
package screen

import "strings"

// Attr is a bit set of cell attributes.
type Attr uint8

const (
	// AttrUnprotected marks a cell the user may type into.
	AttrUnprotected Attr = 1 << iota
	// AttrIntensified marks highlighted cells.
	AttrIntensified
)

// Cell is one character position on the grid.
type Cell struct {
	Char rune
	Attr Attr
}

// Position is a 1-based row/column pair.
type Position struct {
	Row int
	Col int
}

// Field is a contiguous run of unprotected cells on one row.
type Field struct {
	Row     int
	Col     int
	Length  int
	Content string
}

// End returns the column of the last cell of the field.
func (f Field) End() int {
	return f.Col + f.Length - 1
}

// Snapshot is an immutable copy of the grid and cursor.
type Snapshot struct {
	cells  [][]Cell
	cursor Position
	rows   int
	cols   int
}

// New copies grid into a snapshot. Rows shorter than the widest row are
// padded with blanks.
func New(grid [][]Cell, cursor Position) *Snapshot {
	cols := 0
	for _, row := range grid {
		if len(row) > cols {
			cols = len(row)
		}
	}
	cells := make([][]Cell, len(grid))
	for r, row := range grid {
		cells[r] = make([]Cell, cols)
		copy(cells[r], row)
		for c := range cells[r] {
			if cells[r][c].Char == 0 {
				cells[r][c].Char = ' '
			}
		}
	}
	return &Snapshot{cells: cells, cursor: cursor, rows: len(grid), cols: cols}
}

// FromText builds a snapshot of protected cells from lines of text.
func FromText(lines []string, cursor Position) *Snapshot {
	grid := make([][]Cell, len(lines))
	for r, line := range lines {
		for _, ch := range line {
			grid[r] = append(grid[r], Cell{Char: ch})
		}
	}
	return New(grid, cursor)
}

// Size returns the number of rows and columns.
func (s *Snapshot) Size() (rows, cols int) {
	return s.rows, s.cols
}

// Cursor returns the cursor position.
func (s *Snapshot) Cursor() Position {
	return s.cursor
}

// Cell returns the cell at row, col or a blank cell when out of range.
func (s *Snapshot) Cell(row, col int) Cell {
	if row < 1 || row > s.rows || col < 1 || col > s.cols {
		return Cell{Char: ' '}
	}
	return s.cells[row-1][col-1]
}

// Lines returns every row as text.
func (s *Snapshot) Lines() []string {
	lines := make([]string, s.rows)
	for r := range s.cells {
		lines[r] = rowText(s.cells[r], 0, s.cols)
	}
	return lines
}

// Text returns the full screen with rows joined by newlines.
func (s *Snapshot) Text() string {
	return strings.Join(s.Lines(), "\n")
}

// Line returns a single row as text.
func (s *Snapshot) Line(row int) string {
	row = clamp(row, 1, s.rows)
	if row == 0 {
		return ""
	}
	return rowText(s.cells[row-1], 0, s.cols)
}

// Substring returns length characters of row starting at col.
func (s *Snapshot) Substring(row, col, length int) string {
	if s.rows == 0 || length <= 0 {
		return ""
	}
	row = clamp(row, 1, s.rows)
	col = clamp(col, 1, s.cols)
	end := col - 1 + length
	if end > s.cols {
		end = s.cols
	}
	return rowText(s.cells[row-1], col-1, end)
}

// Block returns the rectangle between two corners, one row per line.
// Corners may be given in any order.
func (s *Snapshot) Block(r1, c1, r2, c2 int) string {
	if s.rows == 0 {
		return ""
	}
	if r1 > r2 {
		r1, r2 = r2, r1
	}
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	r1, r2 = clamp(r1, 1, s.rows), clamp(r2, 1, s.rows)
	c1, c2 = clamp(c1, 1, s.cols), clamp(c2, 1, s.cols)

	lines := make([]string, 0, r2-r1+1)
	for r := r1; r <= r2; r++ {
		lines = append(lines, rowText(s.cells[r-1], c1-1, c2))
	}
	return strings.Join(lines, "\n")
}

// Fields returns the unprotected runs in reading order.
func (s *Snapshot) Fields() []Field {
	var fields []Field
	for r, row := range s.cells {
		start := -1
		for c := 0; c <= len(row); c++ {
			editable := c < len(row) && row[c].Attr&AttrUnprotected != 0
			switch {
			case editable && start < 0:
				start = c
			case !editable && start >= 0:
				fields = append(fields, Field{
					Row:     r + 1,
					Col:     start + 1,
					Length:  c - start,
					Content: rowText(row, start, c),
				})
				start = -1
			}
		}
	}
	return fields
}

// FieldAt returns the field containing row, col.
func (s *Snapshot) FieldAt(row, col int) (Field, bool) {
	for _, f := range s.Fields() {
		if f.Row == row && col >= f.Col && col <= f.End() {
			return f, true
		}
	}
	return Field{}, false
}

func rowText(row []Cell, from, to int) string {
	var b strings.Builder
	for c := from; c < to && c < len(row); c++ {
		ch := row[c].Char
		if ch == 0 {
			ch = ' '
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
