// Package wsterm reaches a terminal gateway through a websocket. Output and
// input travel as binary frames; a frame starting with 0x00 followed by
// rows and cols as big-endian uint16 resizes the remote terminal.
package wsterm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const resizeTag = 0x00

// Conn is a websocket terminal stream.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex
	pending []byte

	writeTimeout time.Duration
}

// Option configures Dial.
type Option func(*dialConfig)

type dialConfig struct {
	header       http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// WithHeader adds request headers, e.g. Authorization.
func WithHeader(h http.Header) Option {
	return func(c *dialConfig) { c.header = h }
}

// WithWriteTimeout bounds every frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *dialConfig) { c.writeTimeout = d }
}

// Dial connects to a gateway websocket URL.
func Dial(ctx context.Context, url string, opts ...Option) (*Conn, error) {
	cfg := dialConfig{
		dialer:       websocket.DefaultDialer,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ws, resp, err := cfg.dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, writeTimeout: cfg.writeTimeout}, nil
}

// Read returns gateway output. Non-binary frames are skipped.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for len(c.pending) == 0 {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if kind == websocket.BinaryMessage {
			c.pending = data
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends input as one binary frame.
func (c *Conn) Write(p []byte) (int, error) {
	if len(p) > 0 && p[0] == resizeTag {
		return 0, fmt.Errorf("wsterm: input may not start with 0x00")
	}
	if err := c.send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Resize asks the gateway to change the terminal size.
func (c *Conn) Resize(cols, rows int) error {
	frame := make([]byte, 5)
	frame[0] = resizeTag
	binary.BigEndian.PutUint16(frame[1:3], uint16(rows))
	binary.BigEndian.PutUint16(frame[3:5], uint16(cols))
	return c.send(frame)
}

func (c *Conn) send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// ParseResize decodes a resize frame. Gateways embedding this package use
// it on the server side.
func ParseResize(frame []byte) (cols, rows int, ok bool) {
	if len(frame) < 5 || frame[0] != resizeTag {
		return 0, 0, false
	}
	rows = int(binary.BigEndian.Uint16(frame[1:3]))
	cols = int(binary.BigEndian.Uint16(frame[3:5]))
	return cols, rows, true
}

var _ io.ReadWriteCloser = (*Conn)(nil)
