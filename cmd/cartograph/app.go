package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"cartograph/internal/adapter"
	"cartograph/internal/annotation"
	"cartograph/internal/config"
	"cartograph/internal/domain"
	"cartograph/internal/reconcile"
	"cartograph/internal/repository/sqlite"
	"cartograph/internal/resolve"
	"cartograph/internal/service"
)

// app holds the wired components shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *prometheus.Registry

	repo      *sqlite.Repository
	eventBus  *service.EventBus
	engine    *reconcile.Engine
	graph     *service.GraphService
	ingest    *service.IngestService
	registry  *adapter.Registry
	scheduler *service.Scheduler
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	behavior := cfg.EffectiveBehavior()

	repo, err := sqlite.New(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eventBus := service.NewEventBus()
	notes := annotation.New(logger)
	engine := reconcile.New(repo,
		reconcile.WithLogger(logger),
		reconcile.WithRegisterer(metrics),
		reconcile.WithMaxTries(uint(cfg.Reconcile.MaxTries)),
		reconcile.WithAnnotationStore(notes),
		reconcile.WithNotifier(eventBus.PublishChanges),
	)

	dnsCfg := resolve.DNSConfig{
		Servers:          cfg.Resolver.Servers,
		ResolvConf:       cfg.Resolver.ResolvConf,
		QueriesPerSecond: behavior.DNSQueriesPerSecond,
		Burst:            int(behavior.DNSQueriesPerSecond) + 1,
	}
	if cfg.Resolver.Timeout != nil {
		dnsCfg.Timeout = cfg.Resolver.Timeout.Duration()
	}
	lookup, err := resolve.NewDNSLookup(dnsCfg, logger)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to configure DNS: %w", err)
	}
	resolver := resolve.New(lookup,
		resolve.WithMaxHops(cfg.Resolver.MaxHops),
		resolve.WithLogger(logger))

	graph := service.NewGraphService(repo, notes, logger)
	ingest := service.NewIngestService(engine, resolver, eventBus, logger)

	registry := adapter.NewRegistry(repo, ingest,
		adapter.WithMaxConcurrentJobs(behavior.MaxConcurrentJobs),
		adapter.WithRegistryLogger(logger),
		adapter.WithRegistryRegisterer(metrics))
	for _, p := range buildProbes(cfg, lookup, graph, logger) {
		if err := registry.Register(p); err != nil {
			repo.Close()
			return nil, err
		}
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		repo:      repo,
		eventBus:  eventBus,
		engine:    engine,
		graph:     graph,
		ingest:    ingest,
		registry:  registry,
		scheduler: service.NewScheduler(repo, registry, logger, registry.Probes()...),
	}, nil
}

// buildProbes creates the probes the config enables for its mode
func buildProbes(cfg *config.Config, records adapter.RecordQuerier, creds adapter.CredentialSource, logger *zap.Logger) []adapter.Probe {
	behavior := cfg.EffectiveBehavior()
	var probes []adapter.Probe

	for _, name := range cfg.EnabledProbes() {
		switch name {
		case config.ProbePortScan:
			pc := cfg.Probes.PortScan
			opts := []adapter.NmapOption{
				adapter.WithNmapLogger(logger),
				adapter.WithTimeout(behavior.ProbeTimeout),
				adapter.WithSkipHostDiscovery(pc.SkipHostDiscovery),
				// -sV and -sC are loud
				adapter.WithServiceDetection(cfg.Posture != config.PostureStealth),
			}
			if pc.BinaryPath != nil {
				opts = append(opts, adapter.WithBinaryPath(*pc.BinaryPath))
			}
			switch {
			case pc.Ports == "common":
				opts = append(opts, adapter.WithCommonPorts())
			case pc.Ports != "":
				opts = append(opts, adapter.WithPortRange(pc.Ports))
			case pc.TopPorts > 0:
				opts = append(opts, adapter.WithTopPorts(pc.TopPorts))
			}
			if pc.Fast {
				opts = append(opts, adapter.WithFastScan())
			}
			probes = append(probes, adapter.NewNmapProbe(opts...))

		case config.ProbeTCPScan:
			tc := adapter.ConnectScanConfig{
				Ports:         cfg.Probes.TCPScan.Ports,
				MaxConcurrent: behavior.ConnectConcurrency,
			}
			if cfg.Probes.TCPScan.Timeout != nil {
				tc.Timeout = cfg.Probes.TCPScan.Timeout.Duration()
			}
			probes = append(probes, adapter.NewConnectScanProbe(tc, nil, logger))

		case config.ProbeScanDomain:
			probes = append(probes, adapter.NewDNSRecordsProbe(records,
				adapter.WithZoneTransfer(cfg.Probes.ScanDomain.ZoneTransfer),
				adapter.WithWhois(cfg.Probes.ScanDomain.Whois),
				adapter.WithDNSLogger(logger)))

		case config.ProbeSSHLogin:
			sc := cfg.Probes.SSHLogin
			opts := []adapter.SSHOption{
				adapter.WithSSHPorts(sc.Ports...),
				adapter.WithSSHLogger(logger),
			}
			if sc.Timeout != nil {
				opts = append(opts, adapter.WithSSHTimeout(sc.Timeout.Duration()))
			}
			for _, pair := range sc.Credentials {
				opts = append(opts, adapter.WithExtraCredentials(domain.Credential{
					Username: pair.Username,
					Password: domain.String(pair.Password),
				}))
			}
			probes = append(probes, adapter.NewSSHLoginProbe(creds, opts...))
		}
	}

	return probes
}

// scheduleAll starts the enabled probes against every handle and waits for
// the jobs to finish
func (a *app) scheduleAll(ctx context.Context, handles []domain.Handle) error {
	for _, h := range handles {
		if _, err := a.scheduler.Schedule(ctx, h); err != nil {
			return err
		}
	}
	a.registry.Wait()
	return nil
}

func (a *app) Close() error {
	a.registry.Wait()
	return a.repo.Close()
}
