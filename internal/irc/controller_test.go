package irc

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/ircbot/internal/config"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/transport"
)

// fakeConn is a scripted transport: tests push chunks into in and read
// written lines, without CRLF, from out.
type fakeConn struct {
	in     chan []byte
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadChunk() ([]byte, error) {
	select {
	case b, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteLine(line []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.out <- strings.TrimSuffix(string(line), "\r\n")
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) serve(lines ...string) {
	for _, line := range lines {
		c.in <- []byte(line + "\r\n")
	}
}

func (c *fakeConn) expect(t *testing.T, lines ...string) {
	t.Helper()
	for _, want := range lines {
		select {
		case got := <-c.out:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []transport.Conn
	dials int
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:       "irc.example.net",
		Port:         6667,
		Nick:         "bot",
		Username:     "botident",
		IRCName:      "The Bot",
		PingInterval: time.Minute,
		Reconnect:    config.Reconnect{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Flood:        config.Flood{Rate: 1000, Burst: 100},
	}
}

func newTestController(t *testing.T, cfg *config.Config, dialer *fakeDialer, events *collector) (*Controller, *[]time.Duration) {
	t.Helper()
	c, err := NewController(cfg, dialer, events, logger.Nop())
	require.NoError(t, err)

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func runController(c *Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	return done
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func TestBackoff(t *testing.T) {
	base, limit := 5*time.Second, 2*time.Minute
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{5, 80 * time.Second},
		{6, 2 * time.Minute},
		{64, 2 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt, base, limit), "attempt %d", tt.attempt)
	}
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	dialer := &fakeDialer{}
	c, delays := newTestController(t, testConfig(), dialer, &collector{})

	err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, dialer.dials)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *delays)
}

func TestSessionSurvivesMalformedLine(t *testing.T) {
	conn := newFakeConn()
	events := &collector{}
	c, _ := newTestController(t, testConfig(), &fakeDialer{conns: []transport.Conn{conn}}, events)
	done := runController(c)

	conn.expect(t, "CAP LS 302", "NICK bot", "USER botident 0 * :The Bot")

	conn.serve(
		":irc.example.net 001 bot :Welcome",
		"@bad",
		":nick!u@h PRIVMSG",
		":alice!a@h PRIVMSG #chan :hello world",
		"PING :irc.example.net",
	)
	conn.expect(t, "PONG irc.example.net")

	var messages []Event
	for _, ev := range events.take() {
		if ev.Name == EventChannelMessage {
			messages = append(messages, ev)
		}
	}
	require.Len(t, messages, 1)
	assert.Equal(t, []string{"#chan", "hello world"}, messages[0].Message.Params)
	assert.True(t, c.Client().Registered())

	require.NoError(t, c.Client().Quit("bye"))
	conn.expect(t, "QUIT :bye")
	close(conn.in)
	assert.NoError(t, waitRun(t, done))
}

func TestReconnectResetsState(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	events := &collector{}
	cfg := testConfig()
	cfg.Capabilities = []string{"multi-prefix"}
	c, delays := newTestController(t, cfg, &fakeDialer{conns: []transport.Conn{first, second}}, events)
	done := runController(c)

	first.expect(t, "CAP LS 302", "NICK bot", "USER botident 0 * :The Bot")
	first.serve(
		":irc.example.net CAP * LS :multi-prefix",
		":irc.example.net CAP * ACK :multi-prefix",
		":irc.example.net 001 bot :Welcome",
		":bot!b@h JOIN #chan",
		"ERROR :Closing link",
	)
	first.expect(t, "CAP REQ :multi-prefix", "CAP END", "MODE #chan", "WHO #chan")

	second.expect(t, "CAP LS 302", "NICK bot", "USER botident 0 * :The Bot")
	assert.False(t, c.Client().Registered())
	assert.Empty(t, c.Client().Channels())
	assert.Empty(t, c.Client().Caps().Enabled)
	assert.True(t, c.Client().Caps().Init)
	assert.Equal(t, []time.Duration{time.Second}, *delays)

	var reasons []string
	for _, ev := range events.take() {
		if ev.Name == EventDisconnect {
			reasons = append(reasons, ev.Reason)
		}
	}
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "server closed the link: Closing link")

	require.NoError(t, c.Client().Quit("bye"))
	second.expect(t, "QUIT :bye")
	close(second.in)
	assert.NoError(t, waitRun(t, done))
}

func TestServerErrorFlushesQueuedLines(t *testing.T) {
	conn := newFakeConn()
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 1
	c, _ := newTestController(t, cfg, &fakeDialer{conns: []transport.Conn{conn}}, &collector{})
	done := runController(c)

	conn.expect(t, "CAP LS 302", "NICK bot", "USER botident 0 * :The Bot")
	conn.serve("PING :irc.example.net", "ERROR :Closing link")

	err := waitRun(t, done)
	require.ErrorIs(t, err, ErrReconnectExhausted)
	assert.ErrorIs(t, err, ErrServerClosed)
	conn.expect(t, "PONG irc.example.net")
}

func TestSendWithoutSession(t *testing.T) {
	c, _ := newTestController(t, testConfig(), &fakeDialer{}, &collector{})
	assert.ErrorIs(t, c.Client().Privmsg("#chan", "hi"), ErrNotConnected)
}
