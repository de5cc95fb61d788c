package ports

import "github.com/acolita/rotinas/internal/screen"

// Terminal is the live character-grid session scripts drive.
type Terminal interface {
	// WriteInput sends bytes to the remote side as if typed.
	WriteInput(data []byte) error

	// OnRawInput registers a handler for raw user keystrokes and returns a
	// function that removes it.
	OnRawInput(handler func(data []byte)) (remove func())

	// Snapshot copies the current grid and cursor.
	Snapshot() *screen.Snapshot

	// CursorPosition returns the 1-based cursor position.
	CursorPosition() screen.Position

	// SetPassThrough enables or disables forwarding of user keystrokes.
	SetPassThrough(enabled bool)
}
