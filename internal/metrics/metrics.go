// Package metrics defines the Prometheus counters the Application Runtime
// Core exposes for operators, mirroring hscontrol's prometheusMiddleware
// instrumentation of hscontrol's request path, generalized from HTTP
// handlers to command/connection/delivery counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts Command Router dispatches by command and
	// outcome ("ok", "denied", "error").
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eden_commands_total",
		Help: "Total command router dispatches by command and result.",
	}, []string{"command", "result"})

	// AppBusConnections counts successful AppBus connect handshakes.
	AppBusConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eden_appbus_connections",
		Help: "Total AppBus connections established.",
	})

	// SubscriptionDeliveriesTotal counts Subscription Bus sink deliveries
	// by subject.
	SubscriptionDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eden_subscription_deliveries_total",
		Help: "Total Subscription Bus sink deliveries by subject.",
	}, []string{"subject"})
)
