package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartograph/internal/domain"
	"cartograph/internal/repository"
)

// DefaultMaxConcurrentJobs bounds the probes running at once
const DefaultMaxConcurrentJobs = 8

// slotPollInterval is how often a waiting Submit retries for a job slot
const slotPollInterval = 20 * time.Millisecond

// ErrUnknownProbe is returned when a job names a probe that is not registered
var ErrUnknownProbe = errors.New("unknown probe")

// ErrTargetRejected is returned when a probe does not accept a target
var ErrTargetRejected = errors.New("probe does not accept target")

// Registry runs probes as jobs. Each job is recorded in the graph as RUNNING
// and finished as DONE or FAILED; a failing job never stops the others.
type Registry struct {
	mu     sync.RWMutex
	probes map[string]Probe

	graph  repository.Graph
	sink   Sink
	group  errgroup.Group
	logger *zap.Logger

	jobsTotal   *prometheus.CounterVec
	jobsRunning prometheus.Gauge
}

// RegistryOption configures a Registry
type RegistryOption func(*registryOptions)

type registryOptions struct {
	maxConcurrent int
	logger        *zap.Logger
	registerer    prometheus.Registerer
}

// WithMaxConcurrentJobs bounds the jobs running at once
func WithMaxConcurrentJobs(n int) RegistryOption {
	return func(o *registryOptions) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(o *registryOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistryRegisterer registers the job metrics on reg
func WithRegistryRegisterer(reg prometheus.Registerer) RegistryOption {
	return func(o *registryOptions) {
		o.registerer = reg
	}
}

// NewRegistry creates a registry that records jobs in graph and sends
// findings to sink
func NewRegistry(graph repository.Graph, sink Sink, opts ...RegistryOption) *Registry {
	o := registryOptions{
		maxConcurrent: DefaultMaxConcurrentJobs,
		logger:        zap.NewNop(),
		registerer:    prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		probes: make(map[string]Probe),
		graph:  graph,
		sink:   sink,
		logger: o.logger.Named("jobs"),
		jobsTotal: promauto.With(o.registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cartograph_jobs_total",
				Help: "Finished probe jobs, by probe and status",
			},
			[]string{"probe", "status"},
		),
		jobsRunning: promauto.With(o.registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "cartograph_jobs_running",
				Help: "Probe jobs currently running",
			},
		),
	}
	r.group.SetLimit(o.maxConcurrent)
	return r
}

// Register adds a probe
func (r *Registry) Register(p Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.probes[name]; exists {
		return fmt.Errorf("probe %s already registered", name)
	}
	r.probes[name] = p
	r.logger.Info("registered probe", zap.String("probe", name))
	return nil
}

// Probes returns the registered probe names in order
func (r *Registry) Probes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.probes))
	for name := range r.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProbesFor returns the names of the probes that accept t
func (r *Registry) ProbesFor(t Target) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, p := range r.probes {
		if p.Accepts(t) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Submit starts probe against t in the background and returns the job id.
// It waits for a free job slot while the concurrency limit is reached, and
// gives up with ctx's error if ctx is done first.
func (r *Registry) Submit(ctx context.Context, probe string, t Target) (string, error) {
	p, err := r.lookup(probe, t)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	job := func() error {
		r.run(ctx, id, p, t)
		return nil
	}
	if r.group.TryGo(job) {
		return id, nil
	}

	ticker := time.NewTicker(slotPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			if r.group.TryGo(job) {
				return id, nil
			}
		}
	}
}

// Run runs probe against t and waits for it. The returned error is the
// probe's own failure, which is also recorded on the job.
func (r *Registry) Run(ctx context.Context, probe string, t Target) (string, error) {
	p, err := r.lookup(probe, t)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	return id, r.run(ctx, id, p, t)
}

// Wait blocks until every submitted job has finished
func (r *Registry) Wait() {
	_ = r.group.Wait()
}

func (r *Registry) lookup(probe string, t Target) (Probe, error) {
	r.mu.RLock()
	p, ok := r.probes[probe]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProbe, probe)
	}
	if !p.Accepts(t) {
		return nil, fmt.Errorf("%w: %s on %s %s", ErrTargetRejected, probe, t.Handle.Kind, t)
	}
	return p, nil
}

// run executes one job and records its lifecycle
func (r *Registry) run(ctx context.Context, id string, p Probe, t Target) error {
	job := &domain.Job{
		ID:        id,
		Name:      fmt.Sprintf("%s(%s)", p.Name(), t),
		Status:    domain.JobStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With(zap.String("job", id), zap.String("name", job.Name))

	if err := r.graph.Update(ctx, func(tx repository.Tx) error {
		return tx.CreateJob(ctx, job)
	}); err != nil {
		logger.Error("failed to record job", zap.Error(err))
		return fmt.Errorf("failed to record job: %w", err)
	}

	r.jobsRunning.Inc()
	logger.Info("job started")
	runErr := p.Run(ctx, t, r.sink)
	r.jobsRunning.Dec()

	status, errMsg := domain.JobStatusDone, ""
	if runErr != nil {
		status, errMsg = domain.JobStatusFailed, runErr.Error()
		logger.Warn("job failed", zap.Error(runErr))
	} else {
		logger.Info("job done", zap.Duration("elapsed", time.Since(job.StartedAt)))
	}
	r.jobsTotal.WithLabelValues(p.Name(), string(status)).Inc()

	// The job row is finished even when ctx was cancelled mid-run
	finishCtx := context.WithoutCancel(ctx)
	if err := r.graph.Update(finishCtx, func(tx repository.Tx) error {
		return tx.FinishJob(finishCtx, id, status, errMsg, time.Now().UTC())
	}); err != nil {
		logger.Error("failed to finish job", zap.Error(err))
	}
	return runErr
}
