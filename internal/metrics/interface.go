// Package metrics provides Prometheus-based metrics collection for portprobe.
package metrics

import "time"

// Recorder receives probe and scan observations. Components depend on this
// interface so tests and library callers can run without a registry.
type Recorder interface {
	// ObserveProbe records the outcome and duration of one probe.
	ObserveProbe(status string, duration time.Duration)

	// ObserveScan records a finished scan.
	ObserveScan(status string, tested, open int, duration time.Duration)

	// SetActiveProbes sets the number of probes executing right now.
	SetActiveProbes(n int)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) ObserveProbe(string, time.Duration)          {}
func (Nop) ObserveScan(string, int, int, time.Duration) {}
func (Nop) SetActiveProbes(int)                         {}

// Ensure that PrometheusMetrics implements Recorder.
var (
	_ Recorder = (*PrometheusMetrics)(nil)
	_ Recorder = Nop{}
)
