package recording

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/acolita/rotinas/internal/ports"
)

// Cast archives a recording session in asciicast v2 format, input events
// only. See https://docs.asciinema.org/manual/asciicast/v2/
type Cast struct {
	mu     sync.Mutex
	fs     ports.FileSystem
	clock  ports.Clock
	path   string
	start  time.Time
	closed bool
}

// Header is the asciicast v2 header line.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

// MarshalJSON encodes the event as a JSON array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// NewCast creates dir/<title>_<timestamp>.cast and writes its header.
func NewCast(dir, title string, width, height int, fs ports.FileSystem, clock ports.Clock) (*Cast, error) {
	if err := fs.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	now := clock.Now()
	c := &Cast{
		fs:    fs,
		clock: clock,
		path:  filepath.Join(dir, fmt.Sprintf("%s_%s.cast", title, now.Format("20060102_150405"))),
		start: now,
	}

	header, err := json.Marshal(Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: now.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "xterm-256color"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if err := fs.WriteFile(c.path, append(header, '\n'), 0o600); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return c, nil
}

// RecordInput appends an input event.
func (c *Cast) RecordInput(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	event, err := json.Marshal(Event{
		Time: c.clock.Now().Sub(c.start).Seconds(),
		Type: "i",
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.fs.AppendFile(c.path, append(event, '\n'), 0o600); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close stops recording events.
func (c *Cast) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Path returns the cast file path.
func (c *Cast) Path() string {
	return c.path
}
