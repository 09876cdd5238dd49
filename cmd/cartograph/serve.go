package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cartograph/internal/handler"
	"cartograph/internal/hub"
	"cartograph/internal/service"
)

func serveCommand(root *rootFlags) *ffcli.Command {
	fs := flag.NewFlagSet("cartograph serve", flag.ExitOnError)
	addr := fs.String("addr", "", "HTTP listen address (default from config)")
	noAuto := fs.Bool("no-auto", false, "do not probe new entities automatically")

	return &ffcli.Command{
		Name:       "serve",
		ShortUsage: "cartograph serve [-addr host:port] [-no-auto]",
		ShortHelp:  "Serve the read API and run probes against new entities.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := root.setup()
			if err != nil {
				return err
			}
			defer a.Close()
			defer a.logger.Sync()

			if *addr != "" {
				a.cfg.Server.Addr = *addr
			}
			if *noAuto {
				a.cfg.Probes.Auto = false
			}
			return a.serve(ctx)
		},
	}
}

// serve runs the HTTP server until ctx is cancelled
func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	logger.Info("starting cartograph",
		zap.String("db", a.cfg.Database.Path),
		zap.String("mode", string(a.cfg.EffectiveMode())),
		zap.String("posture", string(a.cfg.Posture)),
		zap.Strings("probes", a.registry.Probes()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Connect event bus to SSE hub
	sseHub := hub.New(logger)
	go sseHub.Run(runCtx)
	events := make(chan service.Event, 100)
	a.eventBus.Subscribe(events)
	defer a.eventBus.Unsubscribe(events)
	go hub.Forward(runCtx, sseHub, events)

	if a.cfg.Probes.Auto && len(a.registry.Probes()) > 0 {
		go func() {
			if err := a.scheduler.Run(runCtx, a.eventBus); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped", zap.Error(err))
			}
		}()
	}

	mux := http.NewServeMux()
	handler.NewGraphHandler(a.graph, logger).Register(mux)
	mux.Handle("GET /events", sseHub)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr: a.cfg.Server.Addr,
		Handler: handler.Chain(mux,
			handler.Recover(logger),
			handler.Logger(logger),
		),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
