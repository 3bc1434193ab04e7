// Package metrics holds the prometheus collectors for the location core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LocationWrites counts ledger writes by result: applied, coalesced, failed, rejected.
	LocationWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locshare_location_writes_total",
		Help: "Location ledger write calls by result.",
	}, []string{"result"})

	LocationWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locshare_location_write_retries_total",
		Help: "Retried location upserts after a transient store failure.",
	})

	FanoutDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locshare_fanout_delivered_total",
		Help: "Change events handed to subscribers, by event type.",
	}, []string{"type"})

	FanoutDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locshare_fanout_dropped_total",
		Help: "Change events dropped because a subscriber buffer was full.",
	}, []string{"type"})

	OpenSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locshare_open_subscriptions",
		Help: "Currently open change-stream subscriptions.",
	})

	WatchStateWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locshare_watch_state_writes_total",
		Help: "Watch-state transitions by outcome: written, unchanged, skipped, suppressed.",
	}, []string{"outcome"})
)
