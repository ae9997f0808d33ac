// Package prometheus provides the Prometheus-backed implementation of
// hid.Metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/emubridge/hidhost/pkg/hid"
)

// hidMetrics is the Prometheus implementation of hid.Metrics.
type hidMetrics struct {
	transfers       *prometheus.CounterVec
	attachedDevices prometheus.Gauge
	freeSlots       prometheus.Gauge
}

// New creates a Prometheus-backed hid.Metrics registered with reg. Pass
// prometheus.DefaultRegisterer to use the process-global registry.
func New(reg prometheus.Registerer) hid.Metrics {
	return &hidMetrics{
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "hidhost_transfers_total",
				Help: "Total number of completed transfer operations by operation, mode and result",
			},
			[]string{"op", "mode", "result"},
		),
		attachedDevices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hidhost_attached_devices",
				Help: "Number of devices currently attached to the registry",
			},
		),
		freeSlots: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "hidhost_free_slots",
				Help: "Number of free device slots in the registry pool",
			},
		),
	}
}

// RecordTransfer implements hid.Metrics.
func (m *hidMetrics) RecordTransfer(op string, async bool, status int32) {
	mode := "sync"
	if async {
		mode = "async"
	}
	m.transfers.WithLabelValues(op, mode, resultLabel(status)).Inc()
}

// SetAttachedDevices implements hid.Metrics.
func (m *hidMetrics) SetAttachedDevices(n int) {
	m.attachedDevices.Set(float64(n))
}

// SetFreeSlots implements hid.Metrics.
func (m *hidMetrics) SetFreeSlots(n int) {
	m.freeSlots.Set(float64(n))
}

// resultLabel folds a guest status code into a bounded label set.
func resultLabel(status int32) string {
	switch {
	case status >= 0:
		return "ok"
	case status == hid.StatusTimeout:
		return "timeout"
	default:
		return "error"
	}
}
