package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_status_transitions_total",
			Help: "Candidate status transitions applied, by target status and update type",
		},
		[]string{"to_status", "update_type"},
	)

	NotificationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_notifications_created_total",
			Help: "Notifications persisted by the dispatcher",
		},
		[]string{"type", "priority"},
	)

	Escalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_escalations_total",
			Help: "Candidates force-moved into a pending status by the reminder sweep",
		},
		[]string{"pending_status"},
	)

	AutoResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_notifications_auto_resolved_total",
			Help: "Stale action-required notifications auto-approved by reconciliation",
		},
		[]string{"type"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_deliveries_total",
			Help: "External channel delivery attempts",
		},
		[]string{"channel", "result"},
	)

	StoreConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ats_store_conflicts_total",
			Help: "Collection saves rejected because the stored version moved",
		},
		[]string{"collection"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ats_http_request_duration_seconds",
			Help:    "Histogram of API response duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Register 注册到默认 registry，可重复调用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Transitions,
			NotificationsCreated,
			Escalations,
			AutoResolved,
			Deliveries,
			StoreConflicts,
			RequestDuration,
		)
	})
}
