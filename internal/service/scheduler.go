package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cartograph/internal/adapter"
	"cartograph/internal/domain"
	"cartograph/internal/reconcile"
	"cartograph/internal/repository"
)

// JobSubmitter starts probe jobs
type JobSubmitter interface {
	ProbesFor(t adapter.Target) []string
	Submit(ctx context.Context, probe string, t adapter.Target) (string, error)
}

// Scheduler starts probes against entities. With Run it follows the event
// bus and probes every machine, domain and service as it is created.
type Scheduler struct {
	graph   repository.Graph
	jobs    JobSubmitter
	allowed map[string]bool
	logger  *zap.Logger
}

// NewScheduler creates a scheduler. When probes is not empty only the named
// probes are started.
func NewScheduler(graph repository.Graph, jobs JobSubmitter, logger *zap.Logger, probes ...string) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		graph:  graph,
		jobs:   jobs,
		logger: logger.Named("scheduler"),
	}
	if len(probes) > 0 {
		s.allowed = make(map[string]bool, len(probes))
		for _, p := range probes {
			s.allowed[p] = true
		}
	}
	return s
}

// Schedule submits every accepting probe against h and returns the job ids.
// Entities no probe can target yield no jobs.
func (s *Scheduler) Schedule(ctx context.Context, h domain.Handle) ([]string, error) {
	var (
		target adapter.Target
		ok     bool
	)
	err := s.graph.View(ctx, func(tx repository.Tx) error {
		var err error
		target, ok, err = targetFor(ctx, tx, h)
		return err
	})
	if err != nil || !ok {
		return nil, err
	}

	var ids []string
	for _, probe := range s.jobs.ProbesFor(target) {
		if s.allowed != nil && !s.allowed[probe] {
			continue
		}
		id, err := s.jobs.Submit(ctx, probe, target)
		if err != nil {
			return ids, err
		}
		s.logger.Debug("job submitted", zap.String("probe", probe), zap.String("target", target.String()), zap.String("job", id))
		ids = append(ids, id)
	}
	return ids, nil
}

// Run schedules probes for created entities until ctx is done
func (s *Scheduler) Run(ctx context.Context, bus *EventBus) error {
	events := make(chan Event, 1024)
	bus.Subscribe(events)
	defer bus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if ev.Type != EventEntityCreated {
				continue
			}
			change, ok := ev.Payload.(reconcile.Change)
			if !ok {
				continue
			}
			if _, err := s.Schedule(ctx, change.Handle); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("failed to schedule probes", zap.Stringer("handle", change.Handle), zap.Error(err))
			}
		}
	}
}

// targetFor builds the probe target of h. Only machines, domains and
// services are targets.
func targetFor(ctx context.Context, tx repository.Tx, h domain.Handle) (adapter.Target, bool, error) {
	switch h.Kind {
	case domain.KindMachine:
		m, err := tx.Machine(ctx, h.ID)
		if err != nil {
			return adapter.Target{}, false, err
		}
		return adapter.MachineTarget(*m), true, nil
	case domain.KindDomain:
		d, err := tx.Domain(ctx, h.ID)
		if err != nil {
			return adapter.Target{}, false, err
		}
		return adapter.DomainTarget(*d), true, nil
	case domain.KindService:
		svc, err := tx.Service(ctx, h.ID)
		if err != nil {
			return adapter.Target{}, false, err
		}
		m, err := tx.Machine(ctx, svc.MachineID)
		if err != nil {
			return adapter.Target{}, false, err
		}
		return adapter.ServiceTarget(*m, *svc), true, nil
	}
	return adapter.Target{}, false, nil
}
