// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package analysis is the composite entry point used by the API and the CLI.

LookupOrFetch resolves a request in this order:

 1. the local analysis store, keyed by (fingerprint, mode)
 2. the remote inference service, when the coordinator reports online
 3. a cached local model supporting the mode

Remote results are written back to the store and announced on the event
bus so the pattern learner can pick them up. Cache writes and event
publication never fail the lookup.
*/
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/verdant/internal/eventbus"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
	"github.com/tomtom215/verdant/internal/offline"
	"github.com/tomtom215/verdant/internal/patterns"
	"github.com/tomtom215/verdant/internal/registry"
	"github.com/tomtom215/verdant/internal/store"
	"github.com/tomtom215/verdant/internal/validation"
)

var (
	// ErrOfflineUnavailable means the device is offline and no cached model
	// supports the requested mode.
	ErrOfflineUnavailable = errors.New("analysis: offline and no local model available")

	// ErrInvalidMode is returned for malformed mode tags.
	ErrInvalidMode = errors.New("analysis: invalid mode")
)

// Request is one lookup. Payload takes precedence over Encoded.
type Request struct {
	Payload  []byte
	Encoded  string
	Mode     string
	Prompt   string
	Metadata store.Metadata
}

// Publisher announces stored analyses. *eventbus.Bus implements it.
type Publisher interface {
	PublishAnalysisStored(ctx context.Context, e *eventbus.AnalysisStoredEvent) error
	PublishConnectivity(ctx context.Context, e *eventbus.ConnectivityEvent) error
}

// Config wires a Service.
type Config struct {
	Store    *store.DB
	Registry *registry.Registry

	// Fingerprint configures the digest. A digest that cannot be
	// constructed aborts NewService.
	Fingerprint fingerprint.Config

	// Learner is fed directly when Events is nil.
	Learner *patterns.Learner

	// Coordinator defaults to an always-online coordinator.
	Coordinator *offline.Coordinator

	// Analyzer defaults to inference.Disabled.
	Analyzer inference.Analyzer

	Events Publisher

	// MinConfidence gates cache hits. Defaults to store.DefaultMinConfidence.
	MinConfidence float64
}

// Service composes the cache, the registry and the remote client.
type Service struct {
	analyses      *store.Analyses
	db            *store.DB
	fp            *fingerprint.Fingerprinter
	registry      *registry.Registry
	learner       *patterns.Learner
	coordinator   *offline.Coordinator
	analyzer      inference.Analyzer
	events        Publisher
	minConfidence float64
}

// NewService validates cfg and builds the service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("analysis: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("analysis: registry is required")
	}
	fp, err := fingerprint.New(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("analysis: fingerprint: %w", err)
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = offline.New(true)
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = inference.Disabled{}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = store.DefaultMinConfidence
	}
	return &Service{
		analyses:      cfg.Store.Analyses(),
		db:            cfg.Store,
		fp:            fp,
		registry:      cfg.Registry,
		learner:       cfg.Learner,
		coordinator:   cfg.Coordinator,
		analyzer:      cfg.Analyzer,
		events:        cfg.Events,
		minConfidence: cfg.MinConfidence,
	}, nil
}

// Fingerprint returns the cache key component for req.
func (s *Service) Fingerprint(req Request) (string, error) {
	if len(req.Payload) > 0 {
		return s.fp.FromBytes(req.Payload)
	}
	return s.fp.FromString(req.Encoded)
}

// LookupOrFetch returns a cached, remote or local result for req.
func (s *Service) LookupOrFetch(ctx context.Context, req Request) (*inference.Result, error) {
	if !validation.IsMode(req.Mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	key, err := s.Fingerprint(req)
	if err != nil {
		return nil, err
	}
	log := logging.Ctx(ctx).With().Str("fingerprint", key).Str("mode", req.Mode).Logger()

	rec, err := s.analyses.FindFresh(ctx, key, req.Mode, s.minConfidence)
	switch {
	case err != nil:
		metrics.RecordLookup(req.Mode, "error")
		log.Warn().Err(err).Msg("Cache read failed, treating as miss")
	case rec != nil:
		metrics.RecordLookup(req.Mode, "hit")
		log.Debug().Str("analysis_id", rec.ID).Msg("Cache hit")
		return &inference.Result{
			Mode:       rec.Mode,
			Data:       rec.Result,
			Confidence: rec.Confidence,
			ModelID:    rec.ModelID,
			Source:     inference.SourceCache,
			AnalysisID: rec.ID,
			CachedAt:   rec.CreatedAt,
		}, nil
	default:
		metrics.RecordLookup(req.Mode, "miss")
	}

	ireq := inference.Request{
		Payload: req.Payload,
		Encoded: req.Encoded,
		Mode:    req.Mode,
		Prompt:  req.Prompt,
	}

	if s.coordinator.IsOffline() {
		res, err := s.processLocally(ctx, ireq)
		if err != nil {
			metrics.RecordLookup(req.Mode, "unavailable")
			return nil, err
		}
		metrics.RecordLookup(req.Mode, "local")
		return res, nil
	}

	res, remoteErr := s.analyzer.Analyze(ctx, ireq)
	if remoteErr == nil {
		metrics.RecordLookup(req.Mode, "remote")
		res.Source = inference.SourceRemote
		if res.Mode == "" {
			res.Mode = req.Mode
		}
		s.remember(ctx, key, req, res)
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	log.Warn().Err(remoteErr).Msg("Remote inference failed, trying local model")
	res, err = s.processLocally(ctx, ireq)
	if err != nil {
		metrics.RecordLookup(req.Mode, "unavailable")
		if errors.Is(err, ErrOfflineUnavailable) {
			return nil, fmt.Errorf("analysis: remote inference: %w", remoteErr)
		}
		return nil, err
	}
	metrics.RecordLookup(req.Mode, "local")
	return res, nil
}

func (s *Service) processLocally(ctx context.Context, req inference.Request) (*inference.Result, error) {
	model, ok := s.registry.ModelForMode(req.Mode)
	if !ok {
		return nil, ErrOfflineUnavailable
	}
	req.ModelID = model.ID
	res, err := s.registry.Process(ctx, model.ID, req)
	if errors.Is(err, registry.ErrModelNotCached) {
		// Evicted between ModelForMode and Process.
		return nil, ErrOfflineUnavailable
	}
	return res, err
}

// remember stores a remote result and announces it. Failures are logged.
func (s *Service) remember(ctx context.Context, key string, req Request, res *inference.Result) {
	rec := &store.CachedAnalysis{
		Fingerprint: key,
		Mode:        req.Mode,
		Result:      res.Data,
		Confidence:  res.Confidence,
		ModelID:     res.ModelID,
		Metadata:    req.Metadata,
	}
	if req.Prompt != "" && rec.Metadata.Prompt == "" {
		rec.Metadata.Prompt = req.Prompt
	}
	id, err := s.analyses.Put(ctx, rec)
	if err != nil {
		metrics.CachePutFailures.Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("fingerprint", key).Str("mode", req.Mode).Msg("Discarding analysis, cache write failed")
		return
	}
	res.AnalysisID = id
	res.CachedAt = rec.CreatedAt

	e := eventbus.NewAnalysisStoredEvent()
	e.AnalysisID = id
	e.Fingerprint = key
	e.Mode = req.Mode
	e.Confidence = res.Confidence
	e.CameraSetting = req.Metadata.CameraSetting
	e.Effects = req.Metadata.Effects
	e.ModelID = res.ModelID
	e.StoredAt = rec.CreatedAt

	if s.events != nil {
		if err := s.events.PublishAnalysisStored(ctx, e); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("analysis_id", id).Msg("Failed to publish analysis event")
		}
		return
	}
	if s.learner != nil {
		s.learnNow(ctx, e)
	}
}

// learnNow feeds the learner in-line when no event bus is configured.
func (s *Service) learnNow(ctx context.Context, e *eventbus.AnalysisStoredEvent) {
	_, err := s.learner.RecordOccurrence(ctx, patterns.Occurrence{
		Mode:          e.Mode,
		CameraSetting: e.CameraSetting,
		Effects:       e.Effects,
		Confidence:    e.Confidence,
		ObservedAt:    e.StoredAt,
	})
	if err == nil {
		_, err = s.learner.RegenerateSuggestions(ctx)
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("analysis_id", e.AnalysisID).Msg("Pattern update failed")
	}
}

// ModelCatalog lists every known model with its current state.
func (s *Service) ModelCatalog() []registry.ModelDescriptor {
	return s.registry.List()
}

// Model returns one catalog entry.
func (s *Service) Model(id string) (registry.ModelDescriptor, error) {
	return s.registry.Get(id)
}

// DownloadModel acquires a model, joining an acquisition already running.
func (s *Service) DownloadModel(ctx context.Context, id string, onProgress func(int)) error {
	return s.registry.Acquire(ctx, id, onProgress)
}

// IsModelCached reports whether a model is ready for offline use.
func (s *Service) IsModelCached(id string) bool {
	return s.registry.IsCached(id)
}

// EvictModel returns a cached model to the uncached state.
func (s *Service) EvictModel(ctx context.Context, id string) error {
	return s.registry.Evict(ctx, id)
}

// Suggestions returns live suggestions. Without a learner it returns none.
func (s *Service) Suggestions(ctx context.Context, limit int) ([]store.Suggestion, error) {
	if s.learner == nil {
		return []store.Suggestion{}, nil
	}
	return s.learner.GetSuggestions(ctx, limit)
}

// CacheStats reports the analysis collection size.
func (s *Service) CacheStats(ctx context.Context) (store.Stats, error) {
	return s.analyses.Stats(ctx)
}

// ClearCache deletes every cached analysis.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	n, err := s.analyses.ClearAll(ctx)
	if err != nil {
		return n, err
	}
	logging.Ctx(ctx).Info().Int("deleted", n).Msg("Analysis cache cleared")
	return n, nil
}

// PurgeCache deletes analyses older than days.
func (s *Service) PurgeCache(ctx context.Context, days int) (int, error) {
	n, err := s.analyses.PurgeOlderThan(ctx, days)
	if err != nil {
		return n, err
	}
	logging.Ctx(ctx).Info().Int("deleted", n).Int("days", days).Msg("Analysis cache purged")
	return n, nil
}

// IsOffline reports the coordinator state.
func (s *Service) IsOffline() bool {
	return s.coordinator.IsOffline()
}

// Connectivity returns the coordinator status.
func (s *Service) Connectivity() offline.Status {
	return s.coordinator.Status()
}

// ReportConnectivity routes a connectivity signal through the event bus,
// or applies it directly when no bus is configured.
func (s *Service) ReportConnectivity(ctx context.Context, online bool, source string) error {
	if s.events == nil {
		s.coordinator.Set(online, source)
		return nil
	}
	return s.events.PublishConnectivity(ctx, eventbus.NewConnectivityEvent(online, source))
}

// StoreDegraded reports whether the store fell back to memory.
func (s *Service) StoreDegraded() bool {
	return s.db.Degraded()
}

// Ping checks that the store answers reads within ctx.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := s.analyses.Stats(ctx)
	return err
}
