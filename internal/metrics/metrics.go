// Package metrics holds the Prometheus collectors exported by the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ircbot"

var (
	LinesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_received_total",
		Help:      "Lines read from the server after framing.",
	})

	LinesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lines_sent_total",
		Help:      "Lines written to the server.",
	})

	ParseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parse_failures_total",
		Help:      "Inbound lines dropped because they could not be parsed.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnects_total",
		Help:      "Sessions that ended and were retried.",
	})

	ModeDesyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mode_desyncs_total",
		Help:      "MODE lines that could not be applied and triggered a resync.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because the action queue was full.",
	})

	Channels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channels",
		Help:      "Channels the bot is currently in.",
	})

	Users = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "users",
		Help:      "Users currently tracked.",
	})

	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connected",
		Help:      "1 while a session is registered with the server.",
	})
)
