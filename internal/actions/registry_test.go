package actions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
)

func TestRegistryPriorityOrder(t *testing.T) {
	r := NewRegistry(1, 8, logger.Nop())
	noop := func(irc.Event) {}
	r.On("channeljoin", "greeter", 0, noop)
	r.On("channeljoin", "autoop", 10, noop)
	r.On("channeljoin", "logger", 0, noop)
	r.On("channeljoin", "early", 5, noop)

	assert.Equal(t, []string{"autoop", "early", "greeter", "logger"}, r.Names("channeljoin"))

	r.On("channeljoin", "greeter", 20, noop)
	assert.Equal(t, []string{"greeter", "autoop", "early", "logger"}, r.Names("channeljoin"))

	r.Off("channeljoin", "autoop")
	assert.Equal(t, []string{"greeter", "early", "logger"}, r.Names("channeljoin"))
}

func TestRegistryRunsActionsInOrder(t *testing.T) {
	r := NewRegistry(1, 8, logger.Nop())

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	record := func(name string) Handler {
		return func(ev irc.Event) {
			mu.Lock()
			order = append(order, name+":"+ev.Nick)
			mu.Unlock()
			if name == "last" {
				close(done)
			}
		}
	}
	r.On("usernick", "last", -1, record("last"))
	r.On("usernick", "first", 1, record("first"))
	r.On("usernick", "panics", 0, func(irc.Event) { panic("boom") })

	r.Start(context.Background())
	defer r.Stop()
	r.Emit(irc.Event{Name: "usernick", Nick: "alice"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("actions did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:alice", "last:alice"}, order)
}

func TestRegistryDropsWhenFull(t *testing.T) {
	r := NewRegistry(1, 2, logger.Nop())
	r.On("raw", "count", 0, func(irc.Event) {})

	for range 5 {
		r.Emit(irc.Event{Name: "raw"})
	}
	assert.Len(t, r.queue, 2)

	// events nobody listens to are never queued
	r.Emit(irc.Event{Name: "topic"})
	assert.Len(t, r.queue, 2)
}

func TestRegistryStop(t *testing.T) {
	r := NewRegistry(3, 8, logger.Nop())
	require.NoError(t, r.Stop())

	r.Start(context.Background())
	require.NoError(t, r.Stop())
}
