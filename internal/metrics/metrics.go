// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MemberTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "member_transitions_total",
		Help:      "Member status changes, by target status and outcome.",
	}, []string{"to", "result"})

	AutoApprovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "eligibility_decisions_total",
		Help:      "Auto-approval decisions, by reason.",
	}, []string{"reason"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "attendance_events_total",
		Help:      "Attendance events written, by type and method.",
	}, []string{"type", "method"})

	Purchases = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "roster",
		Name:      "purchases_total",
		Help:      "Checkout sessions by stage.",
	}, []string{"stage"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "roster",
		Name:      "websocket_clients",
		Help:      "Connected live-update clients.",
	})
)
