// Package faketerminal provides an in-memory ports.Terminal for testing
// scripts without a live session.
package faketerminal

import (
	"sync"

	"github.com/acolita/rotinas/internal/ports"
	"github.com/acolita/rotinas/internal/screen"
)

// Terminal is a scripted character grid that records every write.
type Terminal struct {
	mu          sync.Mutex
	grid        [][]screen.Cell
	cursor      screen.Position
	writes      [][]byte
	forwarded   [][]byte
	handlers    map[int]func([]byte)
	nextID      int
	passThrough bool
	echo        bool

	// OnWrite, when set, is called after every WriteInput outside the lock.
	OnWrite func(data []byte)
	// WriteErr is returned by WriteInput when set.
	WriteErr error
}

// New returns a blank 24x80 terminal with the cursor at 1,1.
func New() *Terminal {
	t := &Terminal{
		handlers:    make(map[int]func([]byte)),
		passThrough: true,
		cursor:      screen.Position{Row: 1, Col: 1},
	}
	t.grid = blank(24, 80)
	return t
}

func blank(rows, cols int) [][]screen.Cell {
	grid := make([][]screen.Cell, rows)
	for r := range grid {
		grid[r] = make([]screen.Cell, cols)
		for c := range grid[r] {
			grid[r][c].Char = ' '
		}
	}
	return grid
}

// SetScreen replaces the grid contents with lines, keeping 24x80 or larger.
func (t *Terminal) SetScreen(lines ...string) *Terminal {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows, cols := 24, 80
	if len(lines) > rows {
		rows = len(lines)
	}
	for _, l := range lines {
		if n := len([]rune(l)); n > cols {
			cols = n
		}
	}
	t.grid = blank(rows, cols)
	for r, l := range lines {
		c := 0
		for _, ch := range l {
			t.grid[r][c].Char = ch
			c++
		}
	}
	return t
}

// MarkField flags length cells starting at row, col as unprotected.
func (t *Terminal) MarkField(row, col, length int) *Terminal {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := col; c < col+length; c++ {
		if row-1 < len(t.grid) && c-1 < len(t.grid[row-1]) {
			t.grid[row-1][c-1].Attr |= screen.AttrUnprotected
		}
	}
	return t
}

// SetCursor moves the cursor.
func (t *Terminal) SetCursor(row, col int) *Terminal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursor = screen.Position{Row: row, Col: col}
	return t
}

// SetEcho makes printable writes appear on the grid at the cursor.
func (t *Terminal) SetEcho(echo bool) *Terminal {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = echo
	return t
}

// WriteInput records data and optionally echoes it.
func (t *Terminal) WriteInput(data []byte) error {
	t.mu.Lock()
	if t.WriteErr != nil {
		err := t.WriteErr
		t.mu.Unlock()
		return err
	}
	t.writes = append(t.writes, append([]byte(nil), data...))
	if t.echo && len(data) > 0 && data[0] >= 0x20 && data[0] != 0x7f {
		for _, ch := range string(data) {
			r, c := t.cursor.Row-1, t.cursor.Col-1
			if r >= 0 && r < len(t.grid) && c >= 0 && c < len(t.grid[r]) {
				t.grid[r][c].Char = ch
				t.cursor.Col++
			}
		}
	}
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return nil
}

// OnRawInput registers a raw input handler.
func (t *Terminal) OnRawInput(handler func([]byte)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = handler
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// Snapshot copies the grid.
func (t *Terminal) Snapshot() *screen.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return screen.New(t.grid, t.cursor)
}

// CursorPosition returns the cursor.
func (t *Terminal) CursorPosition() screen.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// SetPassThrough toggles forwarding of user input.
func (t *Terminal) SetPassThrough(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.passThrough = enabled
}

// --- Test control and inspection methods ---

// UserInput simulates raw keystrokes from the user.
func (t *Terminal) UserInput(data string) {
	t.mu.Lock()
	handlers := make([]func([]byte), 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	if t.passThrough {
		t.forwarded = append(t.forwarded, []byte(data))
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h([]byte(data))
	}
}

// HandleUserInput is UserInput with the signature of terminal.Session.
func (t *Terminal) HandleUserInput(data []byte) error {
	t.UserInput(string(data))
	return nil
}

// PassThrough reports whether user input is forwarded.
func (t *Terminal) PassThrough() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.passThrough
}

// Writes returns every WriteInput payload in order.
func (t *Terminal) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w)
	}
	return out
}

// Forwarded returns user input that reached the remote side.
func (t *Terminal) Forwarded() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.forwarded))
	for i, w := range t.forwarded {
		out[i] = string(w)
	}
	return out
}

// HandlerCount returns the number of registered raw input handlers.
func (t *Terminal) HandlerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Ensure Terminal implements ports.Terminal.
var _ ports.Terminal = (*Terminal)(nil)
