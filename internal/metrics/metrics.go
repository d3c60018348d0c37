package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policytrace_events_enqueued_total",
		Help: "Total number of interaction events appended to the buffer.",
	})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policytrace_events_rejected_total",
		Help: "Total number of interaction events discarded before reaching the buffer, labelled by reason.",
	}, []string{"reason"})

	DebounceReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "policytrace_debounce_replaced_total",
		Help: "Total number of pending debounced events cancelled by a newer call with the same name.",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policytrace_flushes_total",
		Help: "Total number of flush attempts, labelled by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	EventsShipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policytrace_events_shipped_total",
		Help: "Total number of events handed to a transport, labelled by outcome.",
	}, []string{"outcome"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "policytrace_batch_events",
		Help:    "Number of events per detached batch.",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
	})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "policytrace_flush_duration_ms",
		Help:    "Wall time of a flush delivery attempt in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	})

	BufferLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policytrace_buffer_length",
		Help: "Current number of events waiting in the buffer.",
	})

	BeaconResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policytrace_beacon_results_total",
		Help: "Fallback transport calls, labelled by transport kind and whether the payload was accepted.",
	}, []string{"kind", "accepted"})

	SpoolDrained = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policytrace_spool_drained_total",
		Help: "Spooled batches replayed to the collector, labelled by status.",
	}, []string{"status"})
)
