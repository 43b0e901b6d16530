// Package scanner fans TCP probes for a port range out over a bounded worker
// pool. Results stream to the caller in completion order while a single
// aggregator builds a port-ordered summary.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/metrics"
	"github.com/anstrom/portprobe/internal/probe"
	"github.com/anstrom/portprobe/internal/workers"
)

const (
	MinPort = 1
	MaxPort = 65535

	DefaultConcurrency = 100
	// DefaultMaxConcurrency is the safety ceiling applied to Concurrency.
	DefaultMaxConcurrency = 1000
	DefaultTimeout        = 800 * time.Millisecond
)

// Config describes one scan.
type Config struct {
	Host      string
	StartPort int
	EndPort   int

	// Concurrency is the maximum number of probes in flight. Zero means
	// DefaultConcurrency; values are clamped to [1, MaxConcurrency].
	Concurrency int
	// MaxConcurrency overrides DefaultMaxConcurrency when positive.
	MaxConcurrency int

	// Timeout bounds each connect attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// ReadTimeout bounds each banner read. Zero means Timeout.
	ReadTimeout time.Duration
	// BannerSize caps each banner read. Zero means probe.DefaultBannerSize.
	BannerSize int
}

// Target is the host and clamped port range of a scan.
type Target struct {
	Host      string `json:"host"`
	StartPort int    `json:"start_port"`
	EndPort   int    `json:"end_port"`
}

// Count returns the number of ports in the range, zero when start > end.
func (t Target) Count() int {
	if t.StartPort > t.EndPort {
		return 0
	}
	return t.EndPort - t.StartPort + 1
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d-%d", t.Host, t.StartPort, t.EndPort)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithProber replaces probe.Probe, mainly for tests.
func WithProber(fn probe.Func) Option {
	return func(s *Scanner) {
		s.prober = fn
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scanner) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scanner runs scans against a single target.
type Scanner struct {
	target      Target
	concurrency int
	timeout     time.Duration
	readTimeout time.Duration
	bannerSize  int

	prober  probe.Func
	metrics metrics.Recorder
	logger  *logging.Logger
}

// New validates and normalizes cfg. Out-of-range ports are clamped and an
// inverted range produces a scanner with nothing to do; only a missing host
// is an error.
func New(cfg Config, opts ...Option) (*Scanner, error) {
	if cfg.Host == "" {
		return nil, errors.ErrConfigMissing("host")
	}

	s := &Scanner{
		target: Target{
			Host:      cfg.Host,
			StartPort: max(cfg.StartPort, MinPort),
			EndPort:   min(cfg.EndPort, MaxPort),
		},
		concurrency: ClampConcurrency(cfg.Concurrency, cfg.MaxConcurrency),
		timeout:     cfg.Timeout,
		readTimeout: cfg.ReadTimeout,
		bannerSize:  cfg.BannerSize,
		prober:      probe.Probe,
		metrics:     metrics.Nop{},
		logger:      logging.Default(),
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scanner")

	return s, nil
}

// ClampConcurrency applies the default and the [1, ceiling] bounds.
func ClampConcurrency(concurrency, ceiling int) int {
	if ceiling <= 0 {
		ceiling = DefaultMaxConcurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	return max(1, min(concurrency, ceiling))
}

// Target returns the normalized target.
func (s *Scanner) Target() Target {
	return s.target
}

// Concurrency returns the clamped concurrency limit.
func (s *Scanner) Concurrency() int {
	return s.concurrency
}

// Timeout returns the per-probe connect timeout.
func (s *Scanner) Timeout() time.Duration {
	return s.timeout
}

// Run performs a scan, discards the stream and returns the summary.
func (s *Scanner) Run(ctx context.Context) Summary {
	return s.Start(ctx).Wait()
}

// Start dispatches every port in the range and returns immediately.
//
// Canceling ctx stops dispatch; ports not yet handed to a worker are reported
// as errors with code CANCELED, so every port still gets exactly one result.
func (s *Scanner) Start(ctx context.Context) *Scan {
	count := s.target.Count()
	scan := &Scan{
		results: make(chan probe.Result, count),
		done:    make(chan struct{}),
		summary: Summary{
			ID:      uuid.New(),
			Target:  s.target,
			Started: time.Now(),
		},
	}
	logger := s.logger.WithScanID(scan.summary.ID.String())

	if count == 0 {
		logger.InfoScan("Empty port range, nothing to scan", s.target.Host,
			"start_port", s.target.StartPort,
			"end_port", s.target.EndPort)
		close(scan.results)
		close(scan.done)
		return scan
	}

	logger.InfoScan("Starting scan", s.target.Host,
		"start_port", s.target.StartPort,
		"end_port", s.target.EndPort,
		"concurrency", s.concurrency,
		"timeout", s.timeout)

	collected := make(chan probe.Result, s.concurrency)
	go s.dispatch(ctx, collected)
	go s.aggregate(scan, collected, logger)

	return scan
}

// dispatch submits one probe job per port and closes collected once every
// port has produced its result.
func (s *Scanner) dispatch(ctx context.Context, collected chan<- probe.Result) {
	pool := workers.New(workers.Config{
		Size:           min(s.concurrency, s.target.Count()),
		QueueSize:      s.concurrency,
		OnActiveChange: s.metrics.SetActiveProbes,
	})
	pool.Start(ctx)

	port := s.target.StartPort
	for ; port <= s.target.EndPort; port++ {
		req := s.request(port)
		job := workers.NewJobFunc(fmt.Sprintf("probe-%d", port), "probe", func(jobCtx context.Context) error {
			collected <- s.prober(jobCtx, req)
			return nil
		})
		if err := pool.Submit(ctx, job); err != nil {
			break
		}
	}

	// Ports left undispatched after cancellation still get a result.
	for ; port <= s.target.EndPort; port++ {
		collected <- probe.Canceled(s.target.Host, port, ctx.Err())
	}

	pool.Shutdown()
	close(collected)
}

func (s *Scanner) request(port int) probe.Request {
	return probe.Request{
		Host:           s.target.Host,
		Port:           port,
		ConnectTimeout: s.timeout,
		ReadTimeout:    s.readTimeout,
		BannerSize:     s.bannerSize,
	}
}

// aggregate is the only writer of scan.summary.
func (s *Scanner) aggregate(scan *Scan, collected <-chan probe.Result, logger *logging.Logger) {
	last := scan.summary.Started
	for res := range collected {
		last = time.Now()
		s.metrics.ObserveProbe(string(res.Status), res.Duration)
		logger.DebugProbe("Probe finished", res.Port,
			"status", res.Status,
			"code", res.Code(),
			"duration", res.Duration)

		scan.summary.add(res)
		scan.results <- res
	}

	scan.summary.finalize(last.Sub(scan.summary.Started))

	status := "success"
	if scan.summary.Canceled {
		status = "canceled"
	}
	s.metrics.ObserveScan(status, scan.summary.Tested, len(scan.summary.Open), scan.summary.Elapsed)
	logger.InfoScan("Scan completed", s.target.Host,
		"status", status,
		"tested", scan.summary.Tested,
		"open", len(scan.summary.Open),
		"elapsed", scan.summary.Elapsed)

	close(scan.results)
	close(scan.done)
}

// Scan is a running scan.
type Scan struct {
	results chan probe.Result
	done    chan struct{}
	summary Summary
}

// ID returns the scan identifier.
func (s *Scan) ID() uuid.UUID {
	return s.summary.ID
}

// Results streams every probe result in completion order. The channel is
// buffered for the whole range, so a caller that never reads it does not
// stall the scan. It is closed after the last result.
func (s *Scan) Results() <-chan probe.Result {
	return s.results
}

// Done is closed once the summary is final.
func (s *Scan) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until every port has a result and returns the summary.
func (s *Scan) Wait() Summary {
	<-s.done
	return s.summary
}
