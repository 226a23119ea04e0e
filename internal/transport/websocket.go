package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/gorilla/websocket"
)

// Subprotocol is the IRCv3 WebSocket subprotocol for UTF-8 text frames.
const Subprotocol = "text.ircv3.net"

type wsDialer struct {
	opts Options
}

func (d *wsDialer) Dial(ctx context.Context) (Conn, error) {
	netDialer, err := contextDialer(d.opts)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		NetDialContext:   netDialer.DialContext,
		HandshakeTimeout: d.opts.Timeout,
		Subprotocols:     []string{Subprotocol},
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: d.opts.TLSInsecure},
	}
	ws, resp, err := dialer.DialContext(ctx, d.opts.WebSocketURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket %s: %s: %w", d.opts.WebSocketURL, resp.Status, err)
		}
		return nil, fmt.Errorf("websocket %s: %w", d.opts.WebSocketURL, err)
	}
	ws.SetReadLimit(maxLineLength)
	return &wsConn{ws: ws}, nil
}

// wsConn carries one IRC line per WebSocket message, without CRLF.
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadChunk() ([]byte, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteLine(line []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, "\r\n"))
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
