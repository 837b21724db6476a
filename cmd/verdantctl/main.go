// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Command verdantctl inspects and maintains a Verdant store while the
// daemon is stopped.
//
//	verdantctl cache stats
//	verdantctl cache purge --days 7
//	verdantctl models download plant-classifier-v1
//	verdantctl suggestions --limit 3
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/verdant/internal/analysis"
	"github.com/tomtom215/verdant/internal/config"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/patterns"
	"github.com/tomtom215/verdant/internal/registry"
	"github.com/tomtom215/verdant/internal/store"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes one command line and always releases the store.
func run(ctx context.Context, args []string, out io.Writer) error {
	e := &env{}
	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetOut(out)

	err := root.ExecuteContext(ctx)
	if cerr := e.close(); cerr != nil && err == nil {
		err = fmt.Errorf("close store: %w", cerr)
	}
	return err
}

// env is the state shared by subcommands. The store is opened lazily so
// --help and version never touch Badger.
type env struct {
	storePath string
	logLevel  string

	db  *store.DB
	svc *analysis.Service
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "verdantctl",
		Short:         "Maintain the Verdant analysis cache and model store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&e.storePath, "store", "", "Badger directory (default: store.path from config)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "warn", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newCacheCmd(e))
	root.AddCommand(newModelsCmd(e))
	root.AddCommand(newSuggestionsCmd(e))
	return root
}

// service opens the store and builds the analysis service on first use.
func (e *env) service(ctx context.Context) (*analysis.Service, error) {
	if e.svc != nil {
		return e.svc, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(logging.Config{Level: e.logLevel, Format: "console", Output: os.Stderr})

	path := cfg.Store.Path
	if e.storePath != "" {
		path = e.storePath
	}

	// No memory fallback: maintenance must reach the on-disk store.
	db, err := store.Open(store.Config{
		Path:           path,
		SyncWrites:     true,
		GCDiscardRatio: cfg.Store.GCDiscardRatio,
	})
	if err != nil {
		return nil, err
	}

	fpCfg := fingerprint.Config{
		Algorithm:  cfg.Cache.Algorithm,
		SampleSize: cfg.Cache.SampleSize,
		Length:     cfg.Cache.FingerprintLength,
	}
	reg, err := registry.New(ctx, registry.Config{
		Catalog:        catalogFromConfig(cfg.Models.Catalog),
		AcquireTimeout: cfg.Models.AcquireTimeout,
		Fetcher: registry.SimulatedFetcher{
			Steps:     cfg.Models.DownloadSteps,
			StepDelay: cfg.Models.StepDelay,
		},
		States: db.ModelStates(),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	learner := patterns.New(db.Patterns(), db.Suggestions(), patterns.Config{
		Smoothing:     cfg.Patterns.Smoothing,
		MaxPatterns:   cfg.Patterns.MaxPatterns,
		TopPatterns:   cfg.Patterns.TopPatterns,
		MinFrequency:  int64(cfg.Patterns.MinFrequency),
		MinConfidence: cfg.Patterns.MinConfidence,
		SuggestionTTL: cfg.Patterns.SuggestionTTL,
		DefaultLimit:  cfg.Patterns.DefaultLimit,
	})

	svc, err := analysis.NewService(analysis.Config{
		Store:         db,
		Registry:      reg,
		Fingerprint:   fpCfg,
		Learner:       learner,
		MinConfidence: cfg.Cache.MinConfidence,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e.db, e.svc = db, svc
	return svc, nil
}

func (e *env) close() error {
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db, e.svc = nil, nil
	return err
}

func catalogFromConfig(entries []config.ModelConfig) []registry.ModelDescriptor {
	if len(entries) == 0 {
		return nil
	}
	out := make([]registry.ModelDescriptor, 0, len(entries))
	for _, m := range entries {
		out = append(out, registry.ModelDescriptor{
			ID:      m.ID,
			Name:    m.Name,
			Version: m.Version,
			SizeMB:  m.SizeMB,
			Modes:   append([]string(nil), m.Modes...),
		})
	}
	return out
}
