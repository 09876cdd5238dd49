package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"cartograph/internal/adapter"
	"cartograph/internal/codec"
	"cartograph/internal/domain"
	"cartograph/internal/reconcile"
	"cartograph/internal/resolve"
)

var _ adapter.Sink = (*IngestService)(nil)

// IngestService is the single write path into the graph. Probes, imports
// and operator-added targets all go through it.
type IngestService struct {
	engine   *reconcile.Engine
	resolver *resolve.Resolver
	eventBus *EventBus
	logger   *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(engine *reconcile.Engine, resolver *resolve.Resolver, eventBus *EventBus, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		engine:   engine,
		resolver: resolver,
		eventBus: eventBus,
		logger:   logger.Named("ingest"),
	}
}

// Reconcile merges one observation into the graph
func (s *IngestService) Reconcile(ctx context.Context, obs domain.Observation) (domain.Handle, error) {
	return s.engine.Reconcile(ctx, obs)
}

// AddTarget resolves a host name or address and records it
func (s *IngestService) AddTarget(ctx context.Context, target string) error {
	_, err := s.Add(ctx, target)
	return err
}

// Add resolves target and records the machines and domains it designates.
// A chain that hits the hop limit or a cycle is recorded as far as it
// resolved; the error is logged, not returned.
func (s *IngestService) Add(ctx context.Context, target string) ([]domain.Handle, error) {
	res, err := s.resolver.Resolve(ctx, target)
	if err != nil {
		if !errors.Is(err, domain.ErrResolutionUnbounded) || len(res.Aliases) == 0 {
			return nil, fmt.Errorf("failed to resolve %q: %w", target, err)
		}
		s.logger.Warn("recording partial resolution", zap.String("target", target), zap.Error(err))
	}

	handles, err := s.engine.ReconcileResolution(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("failed to record %q: %w", target, err)
	}

	s.logger.Info("target added",
		zap.String("target", target),
		zap.Int("ips", len(res.IPs)),
		zap.Strings("aliases", res.Aliases))
	if s.eventBus != nil {
		s.eventBus.Publish(Event{Type: EventTargetAdded, Payload: res})
	}
	return handles, nil
}

// ImportResult summarizes one import
type ImportResult struct {
	Format     string   `json:"format"`
	Reconciled int      `json:"reconciled"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Import parses r in format and reconciles every observation. An invalid
// observation is reported in the result and does not stop the others; a
// repository failure aborts the import.
func (s *IngestService) Import(ctx context.Context, format string, r io.Reader) (*ImportResult, error) {
	importer, err := codec.ImporterFor(format)
	if err != nil {
		return nil, err
	}
	doc, err := importer.Parse(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Format: format}
	for _, obs := range doc.Observations() {
		if _, err := s.engine.Reconcile(ctx, obs); err != nil {
			if !errors.Is(err, domain.ErrInvalidObservation) {
				return result, fmt.Errorf("import aborted after %d observations: %w", result.Reconciled, err)
			}
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Reconciled++
	}

	s.logger.Info("import finished",
		zap.String("format", format),
		zap.Int("reconciled", result.Reconciled),
		zap.Int("failed", result.Failed))
	if s.eventBus != nil {
		s.eventBus.Publish(Event{Type: EventImported, Payload: result})
	}
	return result, nil
}
