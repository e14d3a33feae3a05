// Package metrics provides Prometheus instrumentation for the pairing server.
// It exposes gauges for the live population counters and counters for relay
// and moderation throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OnlineSessions tracks the current number of connected sessions.
	OnlineSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_online_sessions",
		Help: "Current number of connected sessions",
	})

	// WaitingSessions tracks the current number of sessions in the waiting queue.
	WaitingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_waiting_sessions",
		Help: "Current number of sessions in the waiting queue",
	})

	// ActiveRooms tracks the current number of active rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_active_rooms",
		Help: "Current number of active rooms",
	})

	// RelayedTotal counts relayed frames, labeled by kind: "message",
	// "typing", or "signal".
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_relayed_total",
		Help: "Total number of frames relayed between partners",
	}, []string{"kind"})

	// ReportsTotal counts accepted abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_reports_total",
		Help: "Total number of accepted abuse reports",
	})

	// BansTotal counts issued bans.
	BansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_bans_total",
		Help: "Total number of issued bans",
	})

	// HeartbeatEvictions counts connections closed by the heartbeat monitor.
	HeartbeatEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roulette_heartbeat_evictions_total",
		Help: "Total number of connections closed by the heartbeat monitor",
	})
)

func init() {
	prometheus.MustRegister(
		OnlineSessions,
		WaitingSessions,
		ActiveRooms,
		RelayedTotal,
		ReportsTotal,
		BansTotal,
		HeartbeatEvictions,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
