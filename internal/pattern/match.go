// Package pattern finds text on a screen snapshot, waiting for it to appear
// when asked, and locates input fields relative to labels.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/acolita/rotinas/internal/screen"
)

// Target is a literal string or a regular expression.
type Target struct {
	Literal string
	Regexp  *regexp.Regexp
}

// Text returns a literal target.
func Text(s string) Target {
	return Target{Literal: s}
}

// Regex compiles a regular expression target.
func Regex(expr string) (Target, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Target{}, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return Target{Regexp: re}, nil
}

// String returns the target as written by the user.
func (t Target) String() string {
	if t.Regexp != nil {
		return "/" + t.Regexp.String() + "/"
	}
	return t.Literal
}

// IsZero reports whether the target matches nothing.
func (t Target) IsZero() bool {
	return t.Regexp == nil && t.Literal == ""
}

// Area restricts matching to part of the screen. The zero Area is the
// whole screen.
type Area struct {
	Row1, Col1, Row2, Col2 int
}

// Line restricts matching to one row.
func Line(row int) Area {
	return Area{Row1: row, Row2: row}
}

// Block restricts matching to a rectangle.
func Block(r1, c1, r2, c2 int) Area {
	return Area{Row1: r1, Col1: c1, Row2: r2, Col2: c2}
}

// IsZero reports whether the area covers the whole screen.
func (a Area) IsZero() bool {
	return a == Area{}
}

// Result describes a successful match.
type Result struct {
	// Index is the position of the matching target among the alternatives.
	Index  int
	Target string
	Text   string
	Row    int
	Col    int
}

// End returns the column of the last matched character.
func (r *Result) End() int {
	return r.Col + utf8.RuneCountInString(r.Text) - 1
}

// Match checks the alternatives against snap in declared order and returns
// the first that matches, or nil.
func Match(snap *screen.Snapshot, targets []Target, opts Options) *Result {
	region := newRegion(snap, opts.Area, opts.IgnoreAccents)
	for i, t := range targets {
		if t.IsZero() {
			continue
		}
		re := compileTarget(t, opts)
		loc := re.FindStringIndex(region.text)
		if loc == nil {
			continue
		}
		row, col := region.position(loc[0])
		return &Result{
			Index:  i,
			Target: t.String(),
			Text:   region.original(loc[0], loc[1]),
			Row:    row,
			Col:    col,
		}
	}
	return nil
}

func compileTarget(t Target, opts Options) *regexp.Regexp {
	if t.Regexp != nil {
		return t.Regexp
	}
	lit := t.Literal
	if opts.IgnoreAccents {
		lit = foldAccents(lit)
	}
	expr := regexp.QuoteMeta(lit)
	if !opts.CaseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.MustCompile(expr)
}

// region is the searchable text of an area with enough bookkeeping to map
// byte offsets back to screen coordinates.
type region struct {
	text     string
	raw      string
	lineRows []int
	firstCol int
	starts   []int
}

func newRegion(snap *screen.Snapshot, area Area, fold bool) *region {
	rows, cols := snap.Size()
	r1, r2, c1, c2 := 1, rows, 1, cols
	if !area.IsZero() {
		r1, r2 = area.Row1, area.Row2
		if r1 > r2 {
			r1, r2 = r2, r1
		}
		if area.Col1 > 0 || area.Col2 > 0 {
			c1, c2 = area.Col1, area.Col2
			if c1 > c2 {
				c1, c2 = c2, c1
			}
		}
		r1, r2 = max(r1, 1), min(r2, rows)
		c1, c2 = max(c1, 1), min(c2, cols)
	}

	reg := &region{firstCol: c1}
	var text, raw strings.Builder
	for row := r1; row <= r2; row++ {
		if row > r1 {
			text.WriteByte('\n')
			raw.WriteByte('\n')
		}
		reg.starts = append(reg.starts, text.Len())
		reg.lineRows = append(reg.lineRows, row)
		line := snap.Substring(row, c1, c2-c1+1)
		raw.WriteString(line)
		if fold {
			line = foldAccents(line)
		}
		text.WriteString(line)
	}
	reg.text = text.String()
	reg.raw = raw.String()
	return reg
}

// position converts a byte offset in text to a 1-based row and column.
func (r *region) position(offset int) (int, int) {
	line := 0
	for i, start := range r.starts {
		if start <= offset {
			line = i
		}
	}
	col := utf8.RuneCountInString(r.text[r.starts[line]:offset])
	return r.lineRows[line], r.firstCol + col
}

// original returns the unfolded text for a byte range of the folded text.
// Folding keeps one rune per cell, so rune offsets line up.
func (r *region) original(from, to int) string {
	start := utf8.RuneCountInString(r.text[:from])
	n := utf8.RuneCountInString(r.text[from:to])
	raw := []rune(r.raw)
	if start+n > len(raw) {
		return r.text[from:to]
	}
	return string(raw[start : start+n])
}

// foldAccents strips combining marks one rune at a time so the result has
// exactly as many runes as the input.
func foldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(foldRune(r))
	}
	return b.String()
}

func foldRune(r rune) rune {
	if r < utf8.RuneSelf {
		return r
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, string(r))
	if err != nil || out == "" {
		return r
	}
	folded, _ := utf8.DecodeRuneInString(out)
	return folded
}
