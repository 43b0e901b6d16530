// Package workers provides a fixed-size worker pool for portprobe. A pool runs
// at most Size jobs at once, executes every accepted job exactly once, and
// waits for in-flight jobs on shutdown.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/portprobe/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for logging.
	Type() string
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines, and therefore the maximum
	// number of jobs executing at any instant.
	Size int
	// QueueSize is the number of accepted jobs that may wait for a worker.
	QueueSize int
	// OnActiveChange, if set, is called with the number of executing jobs
	// every time it changes.
	OnActiveChange func(active int)
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:      10,
		QueueSize: 100,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config Config
	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	logger *logging.Logger

	// mu guards closing jobs against concurrent sends.
	mu       sync.RWMutex
	started  bool
	shutdown bool

	// notifyMu orders OnActiveChange calls so the last one sees the final count.
	notifyMu sync.Mutex

	active    int64
	peak      int64
	completed int64
	failed    int64
}

// New creates a new worker pool. Size and QueueSize below 1 are raised to 1
// and 0 respectively.
func New(config Config) *Pool {
	if config.Size < 1 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	return &Pool{
		config: config,
		jobs:   make(chan Job, config.QueueSize),
		ctx:    context.Background(),
		logger: logging.Default().WithComponent("workers"),
	}
}

// Start launches the workers. Jobs run with ctx; canceling it does not stop
// the workers, so queued jobs still execute (and observe the cancellation).
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.shutdown {
		return
	}
	p.started = true
	p.ctx = ctx

	p.logger.Debug("Starting worker pool",
		"worker_count", p.config.Size,
		"queue_size", p.config.QueueSize)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Submit queues a job, blocking while the queue is full. It fails if the pool
// has not been started, is shut down, or ctx is done before the job is
// accepted.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return fmt.Errorf("worker pool is not started")
	}
	if p.shutdown {
		return fmt.Errorf("worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits until every accepted job has
// finished. It is safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.shutdown = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Worker pool stopped",
		"completed", atomic.LoadInt64(&p.completed),
		"failed", atomic.LoadInt64(&p.failed),
		"peak_active", atomic.LoadInt64(&p.peak))
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.config.Size
}

// Active returns the number of jobs executing right now.
func (p *Pool) Active() int {
	return int(atomic.LoadInt64(&p.active))
}

// Peak returns the highest number of jobs that executed simultaneously.
func (p *Pool) Peak() int {
	return int(atomic.LoadInt64(&p.peak))
}

// Completed returns the number of jobs that finished, successfully or not.
func (p *Pool) Completed() int {
	return int(atomic.LoadInt64(&p.completed))
}

// Failed returns the number of jobs whose Execute returned an error.
func (p *Pool) Failed() int {
	return int(atomic.LoadInt64(&p.failed))
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.execute(id, job)
	}
}

func (p *Pool) execute(workerID int, job Job) {
	p.trackActive(1)
	defer p.trackActive(-1)

	start := time.Now()
	err := job.Execute(p.ctx)
	atomic.AddInt64(&p.completed, 1)

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"worker_id", workerID,
			"duration", time.Since(start),
			"error", err)
	}
}

func (p *Pool) trackActive(delta int64) {
	n := atomic.AddInt64(&p.active, delta)
	for {
		peak := atomic.LoadInt64(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&p.peak, peak, n) {
			break
		}
	}
	if p.config.OnActiveChange != nil {
		p.notifyMu.Lock()
		p.config.OnActiveChange(int(atomic.LoadInt64(&p.active)))
		p.notifyMu.Unlock()
	}
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewJobFunc creates a job that runs fn.
func NewJobFunc(id, jobType string, fn func(ctx context.Context) error) *JobFunc {
	return &JobFunc{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *JobFunc) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *JobFunc) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *JobFunc) Type() string {
	return j.jobType
}
