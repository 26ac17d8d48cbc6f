// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts billing webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookOutcomesTotal counts handler outcomes. Failed outcomes were still acknowledged.
	WebhookOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "webhook",
		Name:      "outcomes_total",
		Help:      "Billing event handler outcomes (applied/ignored/skipped/failed).",
	}, []string{"event_type", "outcome"})

	// WebhookRedeliveriesTotal counts deliveries of a gateway event id seen before.
	WebhookRedeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "webhook",
		Name:      "redeliveries_total",
		Help:      "Billing webhook deliveries whose gateway event id was already recorded.",
	}, []string{"event_type"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subledger",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// RenewalsTotal counts renewal attempts by trigger and result.
	RenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "renewal",
		Name:      "attempts_total",
		Help:      "Renewal attempts by trigger (user/monitor) and result.",
	}, []string{"trigger", "result"})

	// SweepTransitionsTotal counts cancelled subscriptions moved to expired by the sweeper.
	SweepTransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "sweeper",
		Name:      "expired_total",
		Help:      "Cancelled subscriptions expired after their period ended.",
	})

	// SweepErrorsTotal counts failed sweeper writes.
	SweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subledger",
		Subsystem: "sweeper",
		Name:      "errors_total",
		Help:      "Sweeper store failures.",
	})
)
