// Package telemetry registers the server's prometheus collectors. The admin
// HTTP listener exposes them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts control commands by verb and outcome ("ok",
	// "rejected", "invalid", "error").
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumdb",
		Name:      "commands_total",
		Help:      "Control commands processed, by verb and outcome.",
	}, []string{"verb", "outcome"})

	// TransfersTotal counts stream transfers by direction and outcome.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumdb",
		Name:      "transfers_total",
		Help:      "Stream transfers, by direction and outcome.",
	}, []string{"direction", "outcome"})

	// TransferBytes counts raw bytes moved over the stream channel.
	TransferBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "forumdb",
		Name:      "transfer_bytes_total",
		Help:      "Bytes moved over the stream channel, by direction.",
	}, []string{"direction"})

	// ActiveSessions tracks the number of logged-in users.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "forumdb",
		Name:      "active_sessions",
		Help:      "Currently logged-in users.",
	})

	// DroppedRequests counts control datagrams rejected by the rate limiter.
	DroppedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "forumdb",
		Name:      "dropped_requests_total",
		Help:      "Control datagrams dropped by the per-source rate limiter.",
	})
)
