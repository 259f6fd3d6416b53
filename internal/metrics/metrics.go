// Package metrics declares the daemon's Prometheus metrics. They are
// registered on the default registry and served at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pipecast"

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests handled by the manager, by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	linksEstablished = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "links_established",
		Help:      "Node pairs the daemon currently has linked",
	})

	registryObjects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_objects",
			Help:      "Objects in the local registry mirror by type",
		},
		[]string{"type"},
	)

	hostCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "host_command_duration_seconds",
			Help:      "Duration of pw-cli and pw-link invocations",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"command", "outcome"},
	)

	patchSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "patch_subscribers",
		Help:      "Connected status patch subscribers",
	})

	patchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "patches_dropped_total",
		Help:      "Status patches dropped because a subscriber was too slow",
	})

	monitorRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_restarts_total",
		Help:      "Times the registry monitor process had to be restarted",
	})
)

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRequest counts one handled request
func ObserveRequest(variant string, err error) {
	requestsTotal.WithLabelValues(variant, outcome(err)).Inc()
}

func SetLinksEstablished(n int) {
	linksEstablished.Set(float64(n))
}

// SetRegistryObjects publishes the mirror's per-collection counts
func SetRegistryObjects(counts map[string]int) {
	for kind, n := range counts {
		registryObjects.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveHostCommand records how long a host command took
func ObserveHostCommand(command string, started time.Time, err error) {
	hostCommandDuration.WithLabelValues(command, outcome(err)).Observe(time.Since(started).Seconds())
}

func AddPatchSubscriber(delta int) {
	patchSubscribers.Add(float64(delta))
}

func PatchDropped() {
	patchesDropped.Inc()
}

func MonitorRestarted() {
	monitorRestarts.Inc()
}
