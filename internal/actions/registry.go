package actions

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/dalnet/ircbot/internal/irc"
	"github.com/dalnet/ircbot/internal/logger"
	"github.com/dalnet/ircbot/internal/metrics"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Handler reacts to one event. Handlers run on worker goroutines and may
// block without holding up the connection.
type Handler func(ev irc.Event)

type action struct {
	name     string
	priority int
	fn       Handler
}

// Registry maps event names to actions and runs them on a bounded worker
// pool. It implements irc.Emitter.
type Registry struct {
	mu      sync.RWMutex
	actions map[string][]action

	queue   chan irc.Event
	workers int
	tomb    *tomb.Tomb
	log     logger.Logger
}

// NewRegistry returns a registry with the given pool size and queue length.
// Zero values select the defaults.
func NewRegistry(workers, queueSize int, log logger.Logger) *Registry {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		actions: make(map[string][]action),
		queue:   make(chan irc.Event, queueSize),
		workers: workers,
		log:     log.Named("actions"),
	}
}

// On registers fn for event under name. Higher priorities run first;
// equal priorities run in registration order. Registering a name twice for
// the same event replaces the earlier action.
func (r *Registry) On(event, name string, priority int, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := slices.DeleteFunc(r.actions[event], func(a action) bool { return a.name == name })
	list = append(list, action{name: name, priority: priority, fn: fn})
	slices.SortStableFunc(list, func(a, b action) int { return b.priority - a.priority })
	r.actions[event] = list
}

// Off removes the named action from event.
func (r *Registry) Off(event, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[event] = slices.DeleteFunc(r.actions[event], func(a action) bool { return a.name == name })
}

// Names lists the actions registered for event in run order.
func (r *Registry) Names(event string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, a := range r.actions[event] {
		names = append(names, a.name)
	}
	return names
}

func (r *Registry) handlers(event string) []action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.actions[event])
}

// Emit queues ev for the workers. It never blocks: when the queue is full
// the event is dropped.
func (r *Registry) Emit(ev irc.Event) {
	if len(r.handlers(ev.Name)) == 0 {
		return
	}
	select {
	case r.queue <- ev:
	default:
		metrics.EventsDropped.Inc()
		r.log.Warn("event queue full, dropping event", "event", ev.Name)
	}
}

// Start launches the worker pool. Workers stop when ctx is done or Stop is
// called.
func (r *Registry) Start(ctx context.Context) {
	r.tomb, _ = tomb.WithContext(ctx)
	for range r.workers {
		r.tomb.Go(r.work)
	}
}

// Stop stops the workers and waits for running actions to return.
func (r *Registry) Stop() error {
	if r.tomb == nil {
		return nil
	}
	r.tomb.Kill(nil)
	return r.tomb.Wait()
}

func (r *Registry) work() error {
	for {
		select {
		case <-r.tomb.Dying():
			return nil
		case ev := <-r.queue:
			r.run(ev)
		}
	}
}

func (r *Registry) run(ev irc.Event) {
	for _, a := range r.handlers(ev.Name) {
		r.call(a, ev)
	}
}

func (r *Registry) call(a action, ev irc.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("action panicked", fmt.Errorf("%v", p),
				"action", a.name, "event", ev.Name, "stack", string(debug.Stack()))
		}
	}()
	a.fn(ev)
}
