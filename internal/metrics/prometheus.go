package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all portprobe metrics
	namespace = "portprobe"

	// Subsystems
	subsystemProbe  = "probe"
	subsystemScan   = "scan"
	subsystemSystem = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probeResults  *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	activeProbes  prometheus.Gauge

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration prometheus.Histogram
	portsTested  prometheus.Counter
	openPorts    prometheus.Counter

	// System metrics
	uptime prometheus.GaugeFunc

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initProbeMetrics initializes per-port probe metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probeResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "results_total",
			Help:      "Total number of probe results by status",
		},
		[]string{"status"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of single port probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"status"},
	)

	pm.activeProbes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "active",
			Help:      "Number of probes currently executing",
		},
	)
}

// initScanMetrics initializes scan-level metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by status",
		},
		[]string{"status"},
	)

	pm.scanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
	)

	pm.portsTested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_tested_total",
			Help:      "Total number of ports tested across scans",
		},
	)

	pm.openPorts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "open_ports_total",
			Help:      "Total number of open ports found across scans",
		},
	)
}

// initSystemMetrics initializes process-level metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Seconds since the metrics registry was created",
		},
		func() float64 { return pm.GetUptime().Seconds() },
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probeResults)
	pm.registry.MustRegister(pm.probeDuration)
	pm.registry.MustRegister(pm.activeProbes)

	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.portsTested)
	pm.registry.MustRegister(pm.openPorts)

	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records the outcome and duration of one probe.
func (pm *PrometheusMetrics) ObserveProbe(status string, duration time.Duration) {
	pm.probeResults.WithLabelValues(status).Inc()
	pm.probeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveScan records a finished scan.
func (pm *PrometheusMetrics) ObserveScan(status string, tested, open int, duration time.Duration) {
	pm.scansTotal.WithLabelValues(status).Inc()
	pm.scanDuration.Observe(duration.Seconds())
	pm.portsTested.Add(float64(tested))
	pm.openPorts.Add(float64(open))
}

// SetActiveProbes sets the number of probes executing right now.
func (pm *PrometheusMetrics) SetActiveProbes(n int) {
	pm.activeProbes.Set(float64(n))
}

// GetUptime returns the uptime duration
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

var (
	globalMetrics     *PrometheusMetrics
	globalMetricsOnce sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
