package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "payments_recorded_total",
		Help:      "Payment events committed to the ledger.",
	})
	PaymentsReversed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "payments_reversed_total",
		Help:      "Reversal events committed to the ledger.",
	})
	ObligationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "obligations_created_total",
		Help:      "Obligations created by fee assignment.",
	})
	ObligationsOverdue = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "obligations_marked_overdue_total",
		Help:      "Obligations moved to overdue by the sweep job.",
	})
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "ledger_rejections_total",
		Help:      "Ledger operations refused, by error code.",
	}, []string{"code"})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "auth_failures_total",
		Help:      "Authentication and authorization failures, by error code.",
	}, []string{"code"})
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bursar",
		Name:      "notifications_dropped_total",
		Help:      "Notifications discarded because the buffer was full or closed.",
	})
)
