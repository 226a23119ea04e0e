package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce accepts one TCP connection, writes payload, then returns
// everything the client sent before closing.
func serveOnce(t *testing.T, payload string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			received <- ""
			return
		}
		defer conn.Close()
		io.WriteString(conn, payload)
		conn.(*net.TCPConn).CloseWrite()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()
	return ln.Addr().String(), received
}

func TestStreamConnReadsLines(t *testing.T) {
	addr, received := serveOnce(t, "PING :a\r\n:srv 001 bot :hi\nlast")

	conn, err := NewDialer(Options{Address: addr}).Dial(context.Background())
	require.NoError(t, err)

	var chunks []string
	for {
		chunk, err := conn.ReadChunk()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, string(chunk))
	}
	assert.Equal(t, []string{"PING :a\r\n", ":srv 001 bot :hi\n", "last"}, chunks)

	require.NoError(t, conn.WriteLine([]byte("PONG :a\r\n")))
	require.NoError(t, conn.Close())
	assert.Equal(t, "PONG :a\r\n", <-received)
}

func TestStreamConnLineTooLong(t *testing.T) {
	addr, _ := serveOnce(t, strings.Repeat("x", maxLineLength+10)+"\r\n")

	conn, err := NewDialer(Options{Address: addr}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadChunk()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestContextDialerProxyAuth(t *testing.T) {
	d, err := contextDialer(Options{Proxy: "user:pass@127.0.0.1:1080"})
	require.NoError(t, err)
	assert.NotNil(t, d)

	d, err = contextDialer(Options{})
	require.NoError(t, err)
	assert.IsType(t, &net.Dialer{}, d)
}

func TestWebSocketConn(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte("PING :ws"))
		_, data, err := ws.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := NewDialer(Options{WebSocketURL: url}).Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	chunk, err := conn.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, "PING :ws", string(chunk))

	require.NoError(t, conn.WriteLine([]byte("PONG :ws\r\n")))
	assert.Equal(t, "PONG :ws", <-received)
}
