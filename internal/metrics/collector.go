package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceStats provides the metrics collector access to gateway state.
type ServiceStats interface {
	IsReady() bool
	// InFlight counts requests holding or waiting for the transcription gate.
	InFlight() int
	// CleanupState is "", "unknown", "available" or "unavailable"; empty
	// means cleanup is not configured.
	CleanupState() string
}

var cleanupStates = []string{"unknown", "available", "unavailable"}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats ServiceStats

	modelReady   *prometheus.Desc
	inFlight     *prometheus.Desc
	cleanupState *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil before the service is built (gauges report 0).
func NewCollector(stats ServiceStats) *Collector {
	return &Collector{
		stats: stats,
		modelReady: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "model_ready"),
			"1 when the transcription provider is ready to serve.",
			nil, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "transcriptions_in_flight"),
			"Transcriptions running or queued on the transcription gate.",
			nil, nil,
		),
		cleanupState: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cleanup", "state"),
			"Transcript cleanup availability, one series per state set to 1 for the current one.",
			[]string{"state"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.modelReady
	ch <- c.inFlight
	ch <- c.cleanupState
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats == nil {
		ch <- prometheus.MustNewConstMetric(c.modelReady, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, 0)
		return
	}

	ready := 0.0
	if c.stats.IsReady() {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(c.modelReady, prometheus.GaugeValue, ready)
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.stats.InFlight()))

	current := c.stats.CleanupState()
	if current == "" {
		return
	}
	for _, s := range cleanupStates {
		v := 0.0
		if s == current {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.cleanupState, prometheus.GaugeValue, v, s)
	}
}
