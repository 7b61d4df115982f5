package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "irrigation",
		Subsystem: "events",
		Name:      "dispatched_total",
		Help:      "Events handed to a backend, by backend and result (ok, error, skipped).",
	}, []string{"backend", "result"})

	DroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "irrigation",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped because the dispatcher queue was full.",
	})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "irrigation",
		Subsystem: "events",
		Name:      "queue_length",
		Help:      "Events waiting in the dispatcher queue.",
	})
)
