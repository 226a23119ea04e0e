package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// maxLineLength is 8191 bytes of tags plus a 512 byte message.
const maxLineLength = 8191 + 512

const defaultTimeout = 30 * time.Second

// ErrLineTooLong is returned when the server sends a line longer than
// maxLineLength without a newline.
var ErrLineTooLong = errors.New("line too long")

// Conn is one established byte-stream connection to the server.
type Conn interface {
	// ReadChunk blocks for the next newline-delimited unit, or the next
	// text frame over WebSocket.
	ReadChunk() ([]byte, error)
	// WriteLine writes one CRLF-terminated line.
	WriteLine(line []byte) error
	Close() error
}

// Dialer opens a Conn.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Options select how the server is reached.
type Options struct {
	Address      string
	TLS          bool
	TLSInsecure  bool
	Proxy        string // SOCKS5 [user:pass@]host:port
	WebSocketURL string
	Timeout      time.Duration
}

// NewDialer returns a WebSocket dialer when WebSocketURL is set and a
// TCP dialer otherwise.
func NewDialer(opts Options) Dialer {
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.WebSocketURL != "" {
		return &wsDialer{opts: opts}
	}
	return &streamDialer{opts: opts}
}

type streamDialer struct {
	opts Options
}

func (d *streamDialer) Dial(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	dialer, err := contextDialer(d.opts)
	if err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, "tcp", d.opts.Address)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if d.opts.TLS {
		host, _, _ := net.SplitHostPort(d.opts.Address)
		tconn := tls.Client(conn, &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: d.opts.TLSInsecure,
			NextProtos:         []string{"irc"},
		})
		if err := tconn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tconn
	}

	return newStreamConn(conn), nil
}

// contextDialer returns a direct dialer, or a SOCKS5 one when a proxy is
// configured.
func contextDialer(opts Options) (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: opts.Timeout}
	if opts.Proxy == "" {
		return direct, nil
	}

	address := opts.Proxy
	var auth *proxy.Auth
	if at := strings.LastIndexByte(address, '@'); at >= 0 {
		user, pass, _ := strings.Cut(address[:at], ":")
		auth = &proxy.Auth{User: user, Password: pass}
		address = address[at+1:]
	}

	socks, err := proxy.SOCKS5("tcp", address, auth, direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy %s: %w", address, err)
	}
	cd, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 proxy %s: dialer does not support contexts", address)
	}
	return cd, nil
}

type streamConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newStreamConn(conn net.Conn) *streamConn {
	return &streamConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxLineLength),
	}
}

func (c *streamConn) ReadChunk() ([]byte, error) {
	line, err := c.reader.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, ErrLineTooLong
	case err == io.EOF && len(line) > 0:
		// unterminated last line; EOF comes on the next call
	case err != nil:
		return nil, err
	}
	return append([]byte(nil), line...), nil
}

func (c *streamConn) WriteLine(line []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(line)
	return err
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}
