// Package metrics wraps the Prometheus collectors used by the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the server components report into.
type Registry struct {
	Connections connectionGauges
	Envelopes   envelopeCounters
	Market      marketCounters
}

type connectionGauges struct {
	Active        prometheus.Gauge
	OnlinePlayers prometheus.Gauge
}

type envelopeCounters struct {
	Received       prometheus.Counter
	Responded      prometheus.Counter
	DispatchErrors prometheus.Counter
	Dropped        prometheus.Counter
	RateLimited    prometheus.Counter
}

type marketCounters struct {
	Transactions *prometheus.CounterVec // labels: action, flag
	FeedEvents   prometheus.Counter
}

// NewRegistry creates the Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		Connections: connectionGauges{
			Active: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "grimhollow_connections_active",
				Help: "Number of active WebSocket connections",
			}),
			OnlinePlayers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "grimhollow_players_online",
				Help: "Number of sessions the presence tracker considers online",
			}),
		},
		Envelopes: envelopeCounters{
			Received: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_envelopes_received_total",
				Help: "Total envelopes read off client connections",
			}),
			Responded: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_envelopes_responded_total",
				Help: "Total response envelopes written back to clients",
			}),
			DispatchErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_dispatch_errors_total",
				Help: "Total handler faults downgraded to a generalError response",
			}),
			Dropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_envelopes_dropped_total",
				Help: "Total inbound envelopes dropped before dispatch (malformed or back pressure)",
			}),
			RateLimited: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_envelopes_rate_limited_total",
				Help: "Total inbound envelopes rejected by the per-connection rate limiter",
			}),
		},
		Market: marketCounters{
			Transactions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "grimhollow_market_transactions_total",
				Help: "Market transactions by action and result flag",
			}, []string{"action", "flag"}),
			FeedEvents: promauto.NewCounter(prometheus.CounterOpts{
				Name: "grimhollow_market_feed_events_total",
				Help: "Market events published to the event feed",
			}),
		},
	}
}

// Handler returns the HTTP handler exposing the metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
