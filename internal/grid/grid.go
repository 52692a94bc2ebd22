// Package grid models a bounded entry grid and applies clipboard-style paste
// blocks onto it.
package grid

import (
	"fmt"
	"strings"

	"taxrollsync/pkg/domain"
)

// Coord addresses a cell by zero-based row and column.
type Coord struct {
	Row int
	Col int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// Grid is a fixed-size matrix of raw cell text with an optional focused cell.
// It is owned by a single controller goroutine and is not safe for concurrent use.
type Grid struct {
	rows  int
	cols  int
	cells [][]string
	focus *Coord
}

// New allocates an empty rows x cols grid.
func New(rows, cols int) *Grid {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	cells := make([][]string, rows)
	for i := range cells {
		cells[i] = make([]string, cols)
	}
	return &Grid{rows: rows, cols: cols, cells: cells}
}

// ForSchema allocates a grid sized for the schema's columns and row capacity.
func ForSchema(s domain.Schema) *Grid {
	rows := s.GridRows
	if rows <= 0 {
		rows = domain.DefaultGridRows
	}
	return New(rows, s.Len())
}

// Size returns the row capacity and column count.
func (g *Grid) Size() (rows, cols int) { return g.rows, g.cols }

// InBounds reports whether c addresses a cell of the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.Row >= 0 && c.Row < g.rows && c.Col >= 0 && c.Col < g.cols
}

// Focus marks c as the paste anchor.
func (g *Grid) Focus(c Coord) error {
	if !g.InBounds(c) {
		return fmt.Errorf("cell %s outside %dx%d grid", c, g.rows, g.cols)
	}
	g.focus = &c
	return nil
}

// Blur clears the focused cell.
func (g *Grid) Blur() { g.focus = nil }

// Focused returns the focused cell, if any.
func (g *Grid) Focused() (Coord, bool) {
	if g.focus == nil {
		return Coord{}, false
	}
	return *g.focus, true
}

// Set overwrites one cell.
func (g *Grid) Set(c Coord, value string) error {
	if !g.InBounds(c) {
		return fmt.Errorf("cell %s outside %dx%d grid", c, g.rows, g.cols)
	}
	g.cells[c.Row][c.Col] = value
	return nil
}

// Get returns one cell's text; out of bounds reads return "".
func (g *Grid) Get(c Coord) string {
	if !g.InBounds(c) {
		return ""
	}
	return g.cells[c.Row][c.Col]
}

// Rows returns a copy of every row.
func (g *Grid) Rows() [][]string {
	out := make([][]string, g.rows)
	for i, r := range g.cells {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Reset clears every cell. Focus is kept.
func (g *Grid) Reset() {
	for _, r := range g.cells {
		for j := range r {
			r[j] = ""
		}
	}
}

// Paste applies raw at the focused cell. Without focus it returns
// domain.ErrNoAnchorSelected and leaves the grid untouched.
func (g *Grid) Paste(raw string) (int, error) {
	anchor, ok := g.Focused()
	if !ok {
		return 0, domain.ErrNoAnchorSelected
	}
	return g.Apply(anchor, raw), nil
}

// Apply writes a tab/newline block with its top-left cell at anchor. Fields
// that land outside the grid are discarded. Each written cell receives the
// trimmed field text. It returns the number of cells written.
func (g *Grid) Apply(anchor Coord, raw string) int {
	applied := 0
	for i, line := range Lines(raw) {
		r := anchor.Row + i
		if r < 0 {
			continue
		}
		if r >= g.rows {
			break
		}
		for j, field := range strings.Split(line, "\t") {
			c := anchor.Col + j
			if c < 0 {
				continue
			}
			if c >= g.cols {
				break
			}
			g.cells[r][c] = strings.TrimSpace(field)
			applied++
		}
	}
	return applied
}

// Lines splits a paste block into lines, accepting \n and \r\n terminators
// and ignoring a single trailing terminator.
func Lines(raw string) []string {
	raw = strings.TrimSuffix(raw, "\n")
	raw = strings.TrimSuffix(raw, "\r")
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
