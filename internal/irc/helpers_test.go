package irc

import (
	"sync"
	"testing"

	"github.com/dalnet/ircbot/internal/proto"
	"github.com/stretchr/testify/require"
)

// recorder is a Sender that keeps every serialized line.
type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Send(m *proto.Message) error {
	return r.record(m, false)
}

func (r *recorder) SendTrailing(m *proto.Message) error {
	return r.record(m, true)
}

func (r *recorder) record(m *proto.Message, force bool) error {
	line, err := proto.Encode(m, force)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	return nil
}

// take returns and clears the recorded lines.
func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.lines
	r.lines = nil
	return out
}

// collector is an Emitter that keeps every event except raw.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Emit(ev Event) {
	if ev.Name == EventRaw {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) take() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

func (c *collector) names() []string {
	var names []string
	for _, ev := range c.take() {
		names = append(names, ev.Name)
	}
	return names
}

func parse(t *testing.T, line string) *proto.Message {
	t.Helper()
	m, err := proto.Parse(line)
	require.NoError(t, err, line)
	return m
}
