// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/verdant/internal/analysis"
	"github.com/tomtom215/verdant/internal/api"
	"github.com/tomtom215/verdant/internal/config"
	"github.com/tomtom215/verdant/internal/eventbus"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/offline"
	"github.com/tomtom215/verdant/internal/patterns"
	"github.com/tomtom215/verdant/internal/registry"
	"github.com/tomtom215/verdant/internal/store"
	"github.com/tomtom215/verdant/internal/supervisor"
	"github.com/tomtom215/verdant/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Verdant stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential wiring
func run(cfg *config.Config) error {
	logging.Info().
		Str("store_path", cfg.Store.Path).
		Bool("inference_enabled", cfg.Inference.Enabled).
		Bool("http_enabled", cfg.Server.Enabled).
		Msg("Starting Verdant with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(store.Config{
		Path:                cfg.Store.Path,
		InMemory:            cfg.Store.InMemory,
		AllowMemoryFallback: cfg.Store.AllowMemoryFallback,
		SyncWrites:          cfg.Store.SyncWrites,
		GCDiscardRatio:      cfg.Store.GCDiscardRatio,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	if db.Degraded() {
		logging.Warn().Msg("Running with an in-memory analysis store; cached results will not survive a restart")
	}

	fpCfg := fingerprint.Config{
		Algorithm:  cfg.Cache.Algorithm,
		SampleSize: cfg.Cache.SampleSize,
		Length:     cfg.Cache.FingerprintLength,
	}
	fp, err := fingerprint.New(fpCfg)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}

	regCfg := registry.Config{
		Catalog:        catalogFromConfig(cfg.Models.Catalog),
		AcquireTimeout: cfg.Models.AcquireTimeout,
		Fetcher: registry.SimulatedFetcher{
			Steps:     cfg.Models.DownloadSteps,
			StepDelay: cfg.Models.StepDelay,
		},
		Fingerprinter:   fp,
		ResultCacheSize: cfg.Cache.LocalResultSize,
		ResultCacheTTL:  cfg.Cache.LocalResultTTL,
	}
	if cfg.Models.PersistState {
		regCfg.States = db.ModelStates()
	}
	reg, err := registry.New(ctx, regCfg)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	logging.Info().Int("models", len(reg.List())).Msg("Model registry initialized")

	learner := patterns.New(db.Patterns(), db.Suggestions(), patterns.Config{
		Smoothing:     cfg.Patterns.Smoothing,
		MaxPatterns:   cfg.Patterns.MaxPatterns,
		TopPatterns:   cfg.Patterns.TopPatterns,
		MinFrequency:  int64(cfg.Patterns.MinFrequency),
		MinConfidence: cfg.Patterns.MinConfidence,
		SuggestionTTL: cfg.Patterns.SuggestionTTL,
		DefaultLimit:  cfg.Patterns.DefaultLimit,
	})

	analyzer, online, err := newAnalyzer(cfg.Inference)
	if err != nil {
		return fmt.Errorf("inference client: %w", err)
	}
	coordinator := offline.New(online)

	bus, err := eventbus.New(eventbus.Config{
		BufferSize:            cfg.Events.BufferSize,
		CloseTimeout:          cfg.Events.CloseTimeout,
		RetryMaxRetries:       cfg.Events.RetryMaxRetries,
		RetryInitialInterval:  cfg.Events.RetryInitialInterval,
		DeduplicationEnabled:  cfg.Events.DedupEnabled,
		DeduplicationTTL:      cfg.Events.DedupTTL,
		DeduplicationCapacity: cfg.Events.DedupCapacity,
	})
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()
	learner.Register(bus)
	coordinator.Register(bus)

	svc, err := analysis.NewService(analysis.Config{
		Store:         db,
		Registry:      reg,
		Fingerprint:   fpCfg,
		Learner:       learner,
		Coordinator:   coordinator,
		Analyzer:      analyzer,
		Events:        bus,
		MinConfidence: cfg.Cache.MinConfidence,
	})
	if err != nil {
		return fmt.Errorf("analysis service: %w", err)
	}

	tree, err := supervisor.NewSupervisorTree(
		logging.NewComponentSlogLogger("supervisor"),
		supervisor.TreeConfigFrom(cfg.Supervisor),
	)
	if err != nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}

	sweeper := store.NewSweeper(db, store.SweeperConfig{
		Interval:      cfg.Store.SweepInterval,
		RetentionDays: cfg.Store.RetentionDays,
	})
	tree.AddDataService(services.NewSweeperService(sweeper))
	tree.AddMessagingService(services.NewEventBusService(bus))
	tree.AddMessagingService(services.NewSuggestionService(learner, services.SuggestionServiceConfig{
		PruneOnStartup: true,
		PruneInterval:  cfg.Patterns.PruneInterval,
	}, logging.WithComponent("suggestions")))

	var handler *api.Handler
	if cfg.Server.Enabled {
		handler = api.NewHandler(svc)
		server := &http.Server{
			Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: api.NewRouter(handler, api.RouterConfig{
				CORSOrigins:     cfg.Server.CORSOrigins,
				RateLimitReqs:   cfg.Server.RateLimitReqs,
				RateLimitWindow: cfg.Server.RateLimitWindow,
				MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			}),
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
			IdleTimeout:       60 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	} else {
		logging.Info().Msg("HTTP API disabled (HTTP_ENABLED=false)")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}

	if handler != nil {
		handler.Wait()
	}
	return runErr
}

// newAnalyzer returns the remote client and the initial connectivity
// state. Without a remote service the device starts offline.
func newAnalyzer(cfg config.InferenceConfig) (inference.Analyzer, bool, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Remote inference disabled; serving cache and local models only")
		return inference.Disabled{}, false, nil
	}
	client, err := inference.NewHTTPClient(inference.Config{
		Endpoint:           cfg.Endpoint,
		APIKey:             cfg.APIKey,
		Timeout:            cfg.Timeout,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		Burst:              cfg.Burst,
		BreakerTimeout:     cfg.BreakerTimeout,
		BreakerMaxRequests: cfg.BreakerMaxRequests,
	})
	if err != nil {
		return nil, false, err
	}
	logging.Info().Str("endpoint", cfg.Endpoint).Msg("Remote inference client configured")
	return client, true, nil
}

func catalogFromConfig(entries []config.ModelConfig) []registry.ModelDescriptor {
	if len(entries) == 0 {
		return nil
	}
	out := make([]registry.ModelDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, registry.ModelDescriptor{
			ID:      e.ID,
			Name:    e.Name,
			Version: e.Version,
			SizeMB:  e.SizeMB,
			Modes:   append([]string(nil), e.Modes...),
		})
	}
	return out
}
