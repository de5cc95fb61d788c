package wsterm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateway is a websocket endpoint that greets, echoes input and records
// resize frames.
type gateway struct {
	mu      sync.Mutex
	resizes [][2]int
	header  string
}

func (g *gateway) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.header = r.Header.Get("Authorization")
		g.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok"}`))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("TELA 1\r\n"))
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if cols, rows, ok := ParseResize(data); ok {
				g.mu.Lock()
				g.resizes = append(g.resizes, [2]int{cols, rows})
				g.mu.Unlock()
				continue
			}
			_ = conn.WriteMessage(kind, data)
		}
	}
}

func startGateway(t *testing.T) (*gateway, string) {
	t.Helper()
	g := &gateway{}
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readN(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestConn_ReadWrite(t *testing.T) {
	g, url := startGateway(t)

	conn, err := Dial(context.Background(), url, WithHeader(http.Header{"Authorization": []string{"Bearer x"}}))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "TELA 1\r\n", readN(t, conn, 8))

	_, err = conn.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ab", readN(t, conn, 2))
	assert.Equal(t, "c", readN(t, conn, 1))

	g.mu.Lock()
	assert.Equal(t, "Bearer x", g.header)
	g.mu.Unlock()
}

func TestConn_Resize(t *testing.T) {
	g, url := startGateway(t)

	conn, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Resize(132, 27))
	_, err = conn.Write([]byte("x"))
	require.NoError(t, err)
	readN(t, conn, 8)
	assert.Equal(t, "x", readN(t, conn, 1))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, [][2]int{{132, 27}}, g.resizes)
}

func TestConn_RejectsResizeTagInput(t *testing.T) {
	_, url := startGateway(t)

	conn, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{0x00, 1})
	assert.Error(t, err)
}

func TestConn_EOFOnClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "fim"), time.Now().Add(time.Second))
		conn.Close()
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestDial_BadURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/nada")
	assert.Error(t, err)
}

func TestParseResize(t *testing.T) {
	_, _, ok := ParseResize([]byte("abc"))
	assert.False(t, ok)

	cols, rows, ok := ParseResize([]byte{0, 0, 24, 0, 80})
	assert.True(t, ok)
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)
}
