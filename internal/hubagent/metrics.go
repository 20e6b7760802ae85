// SPDX-License-Identifier: Apache-2.0

package hubagent

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the agent's exported counters/gauges, registered the
// same way the teacher's main.go registers its collectors: one
// prometheus.Registerer passed in by the caller, never a package-level
// global.
type Metrics struct {
	syncsTotal      prometheus.Counter
	syncErrorsTotal prometheus.Counter
	pushesTotal     prometheus.Counter
	pushErrorsTotal prometheus.Counter
	channelsInUse   prometheus.Gauge
	lastSyncUnix    prometheus.Gauge
}

// NewMetrics registers and returns a fresh Metrics set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usb_device_hub_syncs_total",
			Help: "Total number of agent sync passes attempted.",
		}),
		syncErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usb_device_hub_sync_errors_total",
			Help: "Total number of agent sync passes that failed.",
		}),
		pushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usb_device_hub_pushes_total",
			Help: "Total number of display pushes sent to the hub controller.",
		}),
		pushErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usb_device_hub_push_errors_total",
			Help: "Total number of display pushes that failed to send.",
		}),
		channelsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usb_device_hub_channels_in_use",
			Help: "Number of display channels with a device assigned in the last sync.",
		}),
		lastSyncUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "usb_device_hub_last_sync_unix_seconds",
			Help: "Unix timestamp of the last completed sync pass.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.syncsTotal, m.syncErrorsTotal, m.pushesTotal, m.pushErrorsTotal, m.channelsInUse, m.lastSyncUnix)
	}
	return m
}
