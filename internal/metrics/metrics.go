// Package metrics holds the Prometheus collectors for the service. All
// methods are no-ops on a nil *Metrics so components can run without them.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// maxDeviceLabels bounds the device label set; devices first seen after the
// limit is reached are counted under otherDevice.
const (
	maxDeviceLabels = 50
	otherDevice     = "other"
)

type Metrics struct {
	mu      sync.Mutex
	devices map[string]struct{}

	scansIngested  *prometheus.CounterVec
	scansRejected  *prometheus.CounterVec
	liveSessions   prometheus.Gauge
	broadcastDrops prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		devices: make(map[string]struct{}),
		scansIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_ingested_total",
			Help: "Scans accepted and stored, by device (capped, overflow as \"other\").",
		}, []string{"device"}),
		scansRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_rejected_total",
			Help: "Scans rejected before storage, by reason.",
		}, []string{"reason"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_live_sessions",
			Help: "Currently connected live viewers.",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_broadcast_dropped_total",
			Help: "Events dropped because a live viewer's buffer was full.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	reg.MustRegister(m.scansIngested, m.scansRejected, m.liveSessions, m.broadcastDrops, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) ScanIngested(device string) {
	if m == nil {
		return
	}
	m.scansIngested.WithLabelValues(m.deviceLabel(device)).Inc()
}

func (m *Metrics) deviceLabel(device string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[device]; ok {
		return device
	}
	if len(m.devices) >= maxDeviceLabels {
		return otherDevice
	}
	m.devices[device] = struct{}{}
	return device
}

func (m *Metrics) ScanRejected(reason string) {
	if m == nil {
		return
	}
	m.scansRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(route, method).Observe(d.Seconds())
}
