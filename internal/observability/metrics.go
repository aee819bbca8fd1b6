package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	commandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "core",
			Name:      "commands_applied_total",
			Help:      "Commands applied by the core.",
		},
		[]string{"node", "kind"},
	)
	commandsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "core",
			Name:      "commands_duplicate_total",
			Help:      "Re-delivered commands skipped by id.",
		},
		[]string{"node", "kind"},
	)
	trips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "core",
			Name:      "trips_total",
			Help:      "Scram latches by cause.",
		},
		[]string{"node", "cause"},
	)
	outputLevel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fissionlink",
			Subsystem: "core",
			Name:      "output_level",
			Help:      "Output level most recently applied to the actuator.",
		},
		[]string{"node"},
	)
	gateOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "gate",
			Name:      "outcomes_total",
			Help:      "Resolved gate commands by outcome.",
		},
		[]string{"node", "kind", "outcome"},
	)
	gateRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "gate",
			Name:      "retries_total",
			Help:      "Command retransmissions.",
		},
		[]string{"node"},
	)
	healthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "health",
			Name:      "transitions_total",
			Help:      "Health judgment flips.",
		},
		[]string{"node", "signal", "alive"},
	)
	healthAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fissionlink",
			Subsystem: "health",
			Name:      "alive",
			Help:      "Current health judgment (1 alive, 0 dead).",
		},
		[]string{"node", "signal"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fissionlink",
			Subsystem: "bus",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded on receive.",
		},
		[]string{"node", "reason"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandsApplied, commandsDuplicate, trips, outputLevel,
			gateOutcomes, gateRetries,
			healthTransitions, healthAlive,
			framesDropped,
		)
	})
}

func RecordCommandApplied(node, kind string) {
	RegisterMetrics()
	commandsApplied.WithLabelValues(node, kind).Inc()
}

func RecordCommandDuplicate(node, kind string) {
	RegisterMetrics()
	commandsDuplicate.WithLabelValues(node, kind).Inc()
}

func RecordTrip(node, cause string) {
	RegisterMetrics()
	trips.WithLabelValues(node, cause).Inc()
}

func RecordOutputLevel(node string, level float64) {
	RegisterMetrics()
	outputLevel.WithLabelValues(node).Set(level)
}

func RecordGateOutcome(node, kind, outcome string) {
	RegisterMetrics()
	gateOutcomes.WithLabelValues(node, kind, outcome).Inc()
}

func RecordGateRetry(node string) {
	RegisterMetrics()
	gateRetries.WithLabelValues(node).Inc()
}

func RecordHealth(node, signal string, alive, changed bool) {
	RegisterMetrics()
	v := 0.0
	if alive {
		v = 1
	}
	healthAlive.WithLabelValues(node, signal).Set(v)
	if changed {
		label := "false"
		if alive {
			label = "true"
		}
		healthTransitions.WithLabelValues(node, signal, label).Inc()
	}
}

func RecordFrameDropped(node, reason string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(node, reason).Inc()
}
