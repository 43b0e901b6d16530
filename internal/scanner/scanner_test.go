package scanner

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/probe"
)

// fakeProber answers from a table of open ports and records concurrency.
type fakeProber struct {
	open   map[int]string
	delay  func(port int) time.Duration
	active int64
	peak   int64

	mu    sync.Mutex
	calls map[int]int
}

func newFakeProber(open map[int]string) *fakeProber {
	return &fakeProber{open: open, calls: make(map[int]int)}
}

func (f *fakeProber) Probe(ctx context.Context, req probe.Request) probe.Result {
	n := atomic.AddInt64(&f.active, 1)
	defer atomic.AddInt64(&f.active, -1)
	for {
		p := atomic.LoadInt64(&f.peak)
		if n <= p || atomic.CompareAndSwapInt64(&f.peak, p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls[req.Port]++
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(req.Port)):
		case <-ctx.Done():
			return probe.Failed(req.Host, req.Port, ctx.Err(), 0)
		}
	}

	if banner, ok := f.open[req.Port]; ok {
		return probe.Open(req.Port, banner, time.Millisecond)
	}
	return probe.Failed(req.Host, req.Port, errString("connection refused"), time.Millisecond)
}

func (f *fakeProber) Calls() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	return out
}

type errString string

func (e errString) Error() string { return string(e) }

type recordingMetrics struct {
	mu        sync.Mutex
	probes    map[string]int
	scans     []string
	maxActive int
}

func (r *recordingMetrics) ObserveProbe(status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probes == nil {
		r.probes = make(map[string]int)
	}
	r.probes[status]++
}

func (r *recordingMetrics) ObserveScan(status string, _, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, status)
}

func (r *recordingMetrics) SetActiveProbes(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.maxActive {
		r.maxActive = n
	}
}

func drain(scan *Scan) []probe.Result {
	var results []probe.Result
	for res := range scan.Results() {
		results = append(results, res)
	}
	return results
}

func TestNew_Validation(t *testing.T) {
	t.Run("missing host", func(t *testing.T) {
		_, err := New(Config{StartPort: 1, EndPort: 10})
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	})

	t.Run("defaults", func(t *testing.T) {
		s, err := New(Config{Host: "localhost", StartPort: 1, EndPort: 10})
		require.NoError(t, err)
		assert.Equal(t, DefaultConcurrency, s.Concurrency())
		assert.Equal(t, DefaultTimeout, s.Timeout())
	})

	t.Run("port clamping", func(t *testing.T) {
		s, err := New(Config{Host: "localhost", StartPort: -5, EndPort: 70000})
		require.NoError(t, err)
		assert.Equal(t, Target{Host: "localhost", StartPort: 1, EndPort: 65535}, s.Target())
		assert.Equal(t, 65535, s.Target().Count())
	})
}

func TestClampConcurrency(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		ceiling     int
		expected    int
	}{
		{"zero uses default", 0, 0, DefaultConcurrency},
		{"negative clamps to one", -4, 0, 1},
		{"within bounds", 250, 0, 250},
		{"above default ceiling", 5000, 0, DefaultMaxConcurrency},
		{"custom ceiling", 5000, 2000, 2000},
		{"default above custom ceiling", 0, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClampConcurrency(tt.concurrency, tt.ceiling))
		})
	}
}

func TestScan_ExactlyOneResultPerPort(t *testing.T) {
	ranges := []struct{ start, end int }{
		{1, 1},
		{20, 25},
		{1000, 1499},
		{65500, 65535},
	}

	for _, r := range ranges {
		fake := newFakeProber(map[int]string{r.start: "first"})
		fake.delay = func(int) time.Duration { return time.Duration(rand.Intn(200)) * time.Microsecond }

		s, err := New(Config{Host: "h", StartPort: r.start, EndPort: r.end, Concurrency: 17},
			WithProber(fake.Probe))
		require.NoError(t, err)

		scan := s.Start(context.Background())
		results := drain(scan)
		summary := scan.Wait()

		expected := r.end - r.start + 1
		require.Len(t, results, expected)
		assert.Equal(t, expected, summary.Tested)

		seen := make(map[int]bool, expected)
		for _, res := range results {
			assert.False(t, seen[res.Port], "duplicate port %d", res.Port)
			seen[res.Port] = true
			assert.GreaterOrEqual(t, res.Port, r.start)
			assert.LessOrEqual(t, res.Port, r.end)
		}
		for port, n := range fake.Calls() {
			assert.Equal(t, 1, n, "port %d probed %d times", port, n)
		}
		assert.Len(t, fake.Calls(), expected)
	}
}

func TestScan_EmptyRange(t *testing.T) {
	fake := newFakeProber(nil)
	s, err := New(Config{Host: "h", StartPort: 100, EndPort: 50}, WithProber(fake.Probe))
	require.NoError(t, err)

	scan := s.Start(context.Background())
	results := drain(scan)
	summary := scan.Wait()

	assert.Empty(t, results)
	assert.Empty(t, summary.Open)
	assert.Zero(t, summary.Tested)
	assert.Zero(t, summary.Elapsed)
	assert.Empty(t, fake.Calls(), "no probes may be dispatched")
}

func TestScan_EmptyRangeAfterClamping(t *testing.T) {
	fake := newFakeProber(nil)
	s, err := New(Config{Host: "h", StartPort: 70000, EndPort: 80000}, WithProber(fake.Probe))
	require.NoError(t, err)

	summary := s.Run(context.Background())

	assert.Zero(t, summary.Tested)
	assert.Empty(t, fake.Calls())
}

func TestScan_ConcurrencyNeverExceeded(t *testing.T) {
	for _, limit := range []int{1, 3, 25} {
		fake := newFakeProber(nil)
		fake.delay = func(int) time.Duration { return 2 * time.Millisecond }
		rec := &recordingMetrics{}

		s, err := New(Config{Host: "h", StartPort: 1, EndPort: 100, Concurrency: limit},
			WithProber(fake.Probe), WithMetrics(rec))
		require.NoError(t, err)

		summary := s.Run(context.Background())

		assert.Equal(t, 100, summary.Tested)
		assert.LessOrEqual(t, int(atomic.LoadInt64(&fake.peak)), limit)
		assert.LessOrEqual(t, rec.maxActive, limit)
		assert.GreaterOrEqual(t, rec.maxActive, 1)
	}
}

func TestScan_SummarySortedRegardlessOfCompletionOrder(t *testing.T) {
	open := map[int]string{3: "c", 7: "g", 11: "k", 19: "s"}
	fake := newFakeProber(open)
	// Higher ports finish first.
	fake.delay = func(port int) time.Duration { return time.Duration(30-port) * time.Millisecond }

	s, err := New(Config{Host: "h", StartPort: 1, EndPort: 20, Concurrency: 20}, WithProber(fake.Probe))
	require.NoError(t, err)

	scan := s.Start(context.Background())
	var completion []int
	for res := range scan.Results() {
		if res.IsOpen() {
			completion = append(completion, res.Port)
		}
	}
	summary := scan.Wait()

	assert.Equal(t, []int{3, 7, 11, 19}, summary.OpenPorts())
	assert.Equal(t, []int{19, 11, 7, 3}, completion)
	assert.Equal(t, 16, summary.Closed)
	assert.Zero(t, summary.Errored)
}

func TestScan_SSHScenario(t *testing.T) {
	fake := newFakeProber(map[int]string{22: "SSH-2.0-Test"})
	s, err := New(Config{Host: "X", StartPort: 20, EndPort: 25}, WithProber(fake.Probe))
	require.NoError(t, err)

	summary := s.Run(context.Background())

	require.Len(t, summary.Open, 1)
	assert.Equal(t, 22, summary.Open[0].Port)
	assert.Equal(t, "SSH-2.0-Test", summary.Open[0].Banner)
	assert.Equal(t, 6, summary.Tested)

	banner, ok := summary.Banner(22)
	assert.True(t, ok)
	assert.Equal(t, "SSH-2.0-Test", banner)
	_, ok = summary.Banner(23)
	assert.False(t, ok)
}

func TestScan_ConcurrencyDoesNotChangeSummary(t *testing.T) {
	open := map[int]string{2: "two", 5: "", 9: "nine"}

	run := func(concurrency int) Summary {
		fake := newFakeProber(open)
		fake.delay = func(int) time.Duration { return time.Duration(rand.Intn(3)) * time.Millisecond }
		s, err := New(Config{Host: "h", StartPort: 1, EndPort: 10, Concurrency: concurrency},
			WithProber(fake.Probe))
		require.NoError(t, err)
		return s.Run(context.Background())
	}

	serial := run(1)
	parallel := run(50)

	assert.Equal(t, serial.OpenPorts(), parallel.OpenPorts())
	assert.Equal(t, serial.Tested, parallel.Tested)
	assert.Equal(t, serial.Closed, parallel.Closed)
	for _, res := range serial.Open {
		b, ok := parallel.Banner(res.Port)
		assert.True(t, ok)
		assert.Equal(t, res.Banner, b)
	}
}

func TestScan_UndrainedStreamStillCompletes(t *testing.T) {
	fake := newFakeProber(map[int]string{10: "x"})
	s, err := New(Config{Host: "h", StartPort: 1, EndPort: 300, Concurrency: 4}, WithProber(fake.Probe))
	require.NoError(t, err)

	done := make(chan Summary, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case summary := <-done:
		assert.Equal(t, 300, summary.Tested)
		assert.Equal(t, []int{10}, summary.OpenPorts())
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not complete without a stream consumer")
	}
}

func TestScan_Cancellation(t *testing.T) {
	fake := newFakeProber(nil)
	fake.delay = func(int) time.Duration { return 50 * time.Millisecond }
	rec := &recordingMetrics{}

	s, err := New(Config{Host: "h", StartPort: 1, EndPort: 1000, Concurrency: 2},
		WithProber(fake.Probe), WithMetrics(rec))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	scan := s.Start(ctx)
	time.AfterFunc(20*time.Millisecond, cancel)

	results := drain(scan)
	summary := scan.Wait()

	assert.Len(t, results, 1000, "every port must still produce one result")
	assert.Equal(t, 1000, summary.Tested)
	assert.True(t, summary.Canceled)
	assert.Less(t, len(fake.Calls()), 1000)

	canceled := 0
	for _, res := range results {
		if res.Code() == errors.CodeCanceled {
			canceled++
		}
	}
	assert.Positive(t, canceled)
	assert.Equal(t, []string{"canceled"}, rec.scans)
}

func TestScan_MetricsRecorded(t *testing.T) {
	fake := newFakeProber(map[int]string{1: "a", 2: "b"})
	rec := &recordingMetrics{}

	s, err := New(Config{Host: "h", StartPort: 1, EndPort: 5}, WithProber(fake.Probe), WithMetrics(rec))
	require.NoError(t, err)
	s.Run(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.probes["open"])
	assert.Equal(t, 3, rec.probes["closed"])
	assert.Equal(t, []string{"success"}, rec.scans)
}

func TestSummary_MarshalJSON(t *testing.T) {
	fake := newFakeProber(map[int]string{22: "SSH-2.0-Test"})
	s, err := New(Config{Host: "X", StartPort: 20, EndPort: 25}, WithProber(fake.Probe))
	require.NoError(t, err)
	summary := s.Run(context.Background())

	data, err := json.Marshal(summary)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, summary.ID.String(), decoded["id"])
	assert.Equal(t, float64(6), decoded["tested"])
	assert.Equal(t, []any{map[string]any{"port": float64(22), "banner": "SSH-2.0-Test"}}, decoded["open"])
	assert.Equal(t, map[string]any{"host": "X", "start_port": float64(20), "end_port": float64(25)}, decoded["target"])
}

// Real sockets from here on.

func listen(t *testing.T, serve func(net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				serve(conn)
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestScan_RealListeners(t *testing.T) {
	sshPort := listen(t, func(c net.Conn) {
		_, _ = c.Write([]byte("SSH-2.0-Test\r\n"))
	})

	release := make(chan struct{})
	silentPort := listen(t, func(c net.Conn) { <-release })
	defer close(release)

	tests := []struct {
		name   string
		port   int
		banner string
	}{
		{"ssh banner", sshPort, "SSH-2.0-Test"},
		{"silent service", silentPort, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(Config{
				Host:        "127.0.0.1",
				StartPort:   tt.port,
				EndPort:     tt.port,
				Timeout:     time.Second,
				ReadTimeout: 100 * time.Millisecond,
			})
			require.NoError(t, err)

			summary := s.Run(context.Background())
			require.Len(t, summary.Open, 1)
			assert.Equal(t, tt.port, summary.Open[0].Port)
			assert.Equal(t, tt.banner, summary.Open[0].Banner)
		})
	}

	t.Run("nothing listening", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		s, err := New(Config{Host: "127.0.0.1", StartPort: port, EndPort: port, Timeout: time.Second})
		require.NoError(t, err)

		scan := s.Start(context.Background())
		results := drain(scan)
		summary := scan.Wait()

		require.Len(t, results, 1)
		assert.False(t, results[0].IsOpen())
		assert.Empty(t, summary.Open)
		assert.Equal(t, 1, summary.Closed+summary.Errored)
	})
}

// blackholeProber behaves like a host that never answers: every connect
// attempt runs into its timeout.
func blackholeProber(ctx context.Context, req probe.Request) probe.Result {
	start := time.Now()
	timer := time.NewTimer(req.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return probe.Failed(req.Host, req.Port, os.ErrDeadlineExceeded, time.Since(start))
	case <-ctx.Done():
		return probe.Failed(req.Host, req.Port, ctx.Err(), time.Since(start))
	}
}

func TestScan_UnansweredHostCompletes(t *testing.T) {
	const ports = 20
	s, err := New(Config{
		Host:        "blackhole",
		StartPort:   1,
		EndPort:     ports,
		Concurrency: 10,
		Timeout:     10 * time.Millisecond,
	}, WithProber(blackholeProber))
	require.NoError(t, err)

	start := time.Now()
	summary := s.Run(context.Background())

	assert.Equal(t, ports, summary.Tested)
	assert.Empty(t, summary.Open)
	assert.Equal(t, ports, summary.Errored)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScan_UnroutableCompletes(t *testing.T) {
	if testing.Short() {
		t.Skip("needs a network that drops traffic to 10.255.255.1")
	}

	const ports = 20
	s, err := New(Config{
		Host:        "10.255.255.1",
		StartPort:   1,
		EndPort:     ports,
		Concurrency: 10,
		Timeout:     10 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	summary := s.Run(context.Background())
	if len(summary.Open) > 0 {
		t.Skip("10.255.255.1 is reachable from this network")
	}

	assert.Equal(t, ports, summary.Tested)
	assert.Equal(t, ports, summary.Closed+summary.Errored)
	assert.Less(t, time.Since(start), 5*time.Second)
}
