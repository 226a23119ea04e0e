package irc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/tomb.v2"

	"github.com/dalnet/ircbot/internal/config"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/metrics"
	"github.com/dalnet/ircbot/internal/proto"
	"github.com/dalnet/ircbot/internal/transport"
)

var (
	// ErrReconnectExhausted is returned by Run after too many consecutive
	// failed connections.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrServerClosed ends a session when the server sends ERROR.
	ErrServerClosed = errors.New("server closed the link")
	// ErrPingTimeout ends a session when the server stops answering.
	ErrPingTimeout = errors.New("ping timeout")

	errQuit = errors.New("quit requested")
)

const (
	inboundQueue  = 64
	outboundQueue = 256
	quitGrace     = 5 * time.Second
)

// Controller owns the connection: it dials, registers, runs the session
// goroutines and reconnects with backoff until Quit or exhaustion.
type Controller struct {
	cfg    *config.Config
	log    logger.Logger
	dialer transport.Dialer
	framer *proto.Framer
	emit   Emitter

	state      *State
	caps       *Negotiator
	dispatcher *Dispatcher
	client     *Client

	mu      sync.Mutex
	session *session

	registered atomic.Bool
	quitting   atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once

	// sleep waits between reconnect attempts.
	sleep func(ctx context.Context, d time.Duration) error
}

type session struct {
	tomb     *tomb.Tomb
	conn     transport.Conn
	inbound  chan *proto.Message
	writes   chan []byte
	flushed  chan struct{}
	lastRead atomic.Int64
}

func (s *session) touch() {
	s.lastRead.Store(time.Now().UnixNano())
}

func (s *session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastRead.Load()))
}

// NewController builds the client core. A nil dialer dials what cfg
// describes.
func NewController(cfg *config.Config, dialer transport.Dialer, emit Emitter, log logger.Logger) (*Controller, error) {
	framer, err := proto.NewFramer(cfg.FallbackCharset)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		dialer = transport.NewDialer(transport.Options{
			Address:      cfg.Address(),
			TLS:          cfg.TLS,
			TLSInsecure:  cfg.TLSInsecure,
			Proxy:        cfg.Proxy,
			WebSocketURL: cfg.WebSocketURL,
		})
	}
	if emit == nil {
		emit = nopEmitter()
	}

	c := &Controller{
		cfg:    cfg,
		log:    log.Named("conn"),
		dialer: dialer,
		framer: framer,
		emit:   emit,
		state:  NewState(cfg.Nick),
		stop:   make(chan struct{}),
	}
	c.sleep = c.wait
	c.caps = NewNegotiator(cfg.Capabilities, cfg.SASLUsername, cfg.SASLPassword, c, log)
	c.dispatcher = NewDispatcher(cfg, c.state, c.caps, c, emit, log)
	c.dispatcher.OnServerError = func(reason string) {
		c.kill(fmt.Errorf("%w: %s", ErrServerClosed, reason))
	}
	c.dispatcher.OnRegistered = func() {
		c.registered.Store(true)
	}
	c.client = newClient(c.state, c.caps, c, c.Quit)
	return c, nil
}

// Client returns the handle given to actions.
func (c *Controller) Client() *Client {
	return c.client
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base doubled per consecutive failure, capped at limit.
func Backoff(n int, base, limit time.Duration) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	return min(d, limit)
}

// Run connects and keeps reconnecting until ctx is done, Quit is called,
// or MaxAttempts consecutive sessions fail without registering.
func (c *Controller) Run(ctx context.Context) error {
	failures := 0
	for {
		err := c.runSession(ctx)
		if c.quitting.Load() {
			c.log.Info("disconnected on request")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if c.registered.Load() {
			failures = 0
		}
		failures++
		if failures >= c.cfg.Reconnect.MaxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, failures, err)
		}

		delay := Backoff(failures, c.cfg.Reconnect.BaseDelay, c.cfg.Reconnect.MaxDelay)
		c.log.Warn("connection lost, reconnecting", "error", errString(err), "attempt", failures, "delay", delay)
		metrics.Reconnects.Inc()
		if err := c.sleep(ctx, delay); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stop:
		return errQuit
	}
}

func (c *Controller) runSession(ctx context.Context) error {
	c.registered.Store(false)
	c.log.Info("connecting", "address", c.target())

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	t, _ := tomb.WithContext(ctx)
	s := &session{
		tomb:    t,
		conn:    conn,
		inbound: make(chan *proto.Message, inboundQueue),
		writes:  make(chan []byte, outboundQueue),
		flushed: make(chan struct{}),
	}
	s.touch()
	c.state.Reset(c.cfg.Nick)
	c.dispatcher.reset()
	c.setSession(s)
	defer func() {
		c.setSession(nil)
		metrics.Connected.Set(0)
	}()

	t.Go(func() error {
		<-t.Dying()
		<-s.flushed
		return conn.Close()
	})
	t.Go(func() error { return c.readLoop(s) })
	t.Go(func() error { return c.eventLoop(s) })
	t.Go(func() error { return c.writeLoop(s) })
	t.Go(func() error { return c.keepalive(s) })

	c.emit.Emit(Event{Name: EventConnect, Time: time.Now()})
	if err := c.register(); err != nil {
		t.Kill(err)
	}

	err = t.Wait()
	c.log.Info("session ended", "error", errString(err))
	c.emit.Emit(Event{Name: EventDisconnect, Time: time.Now(), Reason: errString(err)})
	return err
}

// register opens capability negotiation and sends PASS, NICK and USER.
func (c *Controller) register() error {
	if err := c.caps.Start(); err != nil {
		return err
	}
	if c.cfg.ServerPass != "" {
		if err := c.Send(proto.NewMessage("PASS", c.cfg.ServerPass)); err != nil {
			return err
		}
	}
	if err := c.Send(proto.NewMessage("NICK", c.cfg.Nick)); err != nil {
		return err
	}
	return c.SendTrailing(proto.NewMessage("USER", c.cfg.Username, "0", "*", c.cfg.IRCName))
}

func (c *Controller) readLoop(s *session) error {
	for {
		chunk, err := s.conn.ReadChunk()
		if err != nil {
			select {
			case <-s.tomb.Dying():
				return nil
			default:
				return fmt.Errorf("read: %w", err)
			}
		}
		s.touch()

		for _, line := range c.framer.Split(chunk) {
			metrics.LinesReceived.Inc()
			m, err := proto.Parse(line)
			if err != nil {
				metrics.ParseFailures.Inc()
				c.log.Debug("discarding unparseable line", "line", line, "error", err.Error())
				continue
			}
			c.log.Trace("<- " + line)
			select {
			case s.inbound <- m:
			case <-s.tomb.Dying():
				return nil
			}
		}
	}
}

func (c *Controller) eventLoop(s *session) error {
	for {
		select {
		case <-s.tomb.Dying():
			return nil
		case m := <-s.inbound:
			c.dispatcher.Dispatch(m)
		}
	}
}

func (c *Controller) writeLoop(s *session) error {
	defer close(s.flushed)
	limiter := rate.NewLimiter(rate.Limit(c.cfg.Flood.Rate), c.cfg.Flood.Burst)
	ctx := s.tomb.Context(nil)
	for {
		select {
		case <-s.tomb.Dying():
			c.flush(s)
			return nil
		case line := <-s.writes:
			if err := limiter.Wait(ctx); err != nil {
				c.flush(s, line)
				return nil
			}
			if err := s.conn.WriteLine(line); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			metrics.LinesSent.Inc()
		}
	}
}

// flush writes what is still queued once the session is dying, so replies
// queued before an ERROR or QUIT still reach the server. It stops at the
// first write error.
func (c *Controller) flush(s *session, pending ...[]byte) {
	for {
		var line []byte
		if len(pending) > 0 {
			line, pending = pending[0], pending[1:]
		} else {
			select {
			case line = <-s.writes:
			default:
				return
			}
		}
		if err := s.conn.WriteLine(line); err != nil {
			c.log.Debug("dropping queued lines", "error", err.Error())
			return
		}
		metrics.LinesSent.Inc()
	}
}

// keepalive pings after PingInterval of silence and gives up after twice
// that.
func (c *Controller) keepalive(s *session) error {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		<-s.tomb.Dying()
		return nil
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.tomb.Dying():
			return nil
		case <-ticker.C:
			idle := s.idle()
			switch {
			case idle >= 2*interval:
				return fmt.Errorf("%w after %s", ErrPingTimeout, idle.Truncate(time.Second))
			case idle >= interval:
				token := strconv.FormatInt(time.Now().Unix(), 10)
				if err := c.Send(proto.NewMessage("PING", token)); err != nil {
					return nil
				}
			}
		}
	}
}

// Send implements Sender for the current session.
func (c *Controller) Send(m *proto.Message) error {
	return c.enqueue(m, false)
}

// SendTrailing implements Sender for the current session.
func (c *Controller) SendTrailing(m *proto.Message) error {
	return c.enqueue(m, true)
}

func (c *Controller) enqueue(m *proto.Message, forceTrailing bool) error {
	line, err := proto.Encode(m, forceTrailing)
	if err != nil {
		return err
	}
	s := c.current()
	if s == nil {
		return ErrNotConnected
	}
	c.log.Trace("-> " + line)
	select {
	case s.writes <- c.framer.Frame(line):
		return nil
	case <-s.tomb.Dying():
		return ErrNotConnected
	}
}

// Quit sends QUIT and stops the controller without reconnecting. The
// session is torn down once the server closes the link, or after a grace
// period.
func (c *Controller) Quit(reason string) error {
	c.quitting.Store(true)
	c.stopOnce.Do(func() { close(c.stop) })

	s := c.current()
	if s == nil {
		return nil
	}
	err := c.SendTrailing(proto.NewMessage("QUIT", reason))
	time.AfterFunc(quitGrace, func() { s.tomb.Kill(errQuit) })
	return err
}

func (c *Controller) kill(reason error) {
	if s := c.current(); s != nil {
		s.tomb.Kill(reason)
	}
}

func (c *Controller) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) setSession(s *session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Controller) target() string {
	if c.cfg.WebSocketURL != "" {
		return c.cfg.WebSocketURL
	}
	return c.cfg.Address()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
