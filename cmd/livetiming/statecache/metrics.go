package statecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_updates_applied_total",
		Help: "The total number of updates merged into the canonical state",
	})
	fullStateReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_full_state_replacements_total",
		Help: "The total number of times the canonical state was replaced",
	})
	subscribersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livetiming_subscribers",
		Help: "The number of currently registered subscribers",
	})
	droppedSubscribers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetiming_subscribers_dropped_total",
		Help: "The total number of subscribers dropped for not keeping up",
	})
)
