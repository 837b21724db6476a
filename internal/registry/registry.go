// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package registry owns the catalog of local inference models and their
acquisition lifecycle.

All catalog state lives behind one mutex in Registry. A model moves
Uncached -> Acquiring -> Cached; Evict moves it back to Uncached. At most
one fetch runs per model: callers that Acquire a model that is already
being fetched join the running acquisition and observe the remaining
progress and the same final result. TryAcquire rejects instead.

Process runs a cached model locally. Identical concurrent calls are
collapsed with singleflight and results are kept in a small LRU.
*/
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/verdant/internal/cache"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
	"github.com/tomtom215/verdant/internal/store"
)

var (
	// ErrUnknownModel is returned for ids not in the catalog.
	ErrUnknownModel = errors.New("registry: unknown model")

	// ErrDuplicateAcquisition is returned by TryAcquire while the model is
	// already being acquired.
	ErrDuplicateAcquisition = errors.New("registry: acquisition already in progress")

	// ErrModelNotCached is returned by Process for models that have not
	// finished acquisition.
	ErrModelNotCached = errors.New("registry: model not cached")

	// ErrAcquisitionInProgress is returned by Evict while the model is
	// being acquired.
	ErrAcquisitionInProgress = errors.New("registry: cannot evict during acquisition")
)

// StateStore persists lifecycle states. *store.ModelStates implements it.
type StateStore interface {
	Save(ctx context.Context, s store.ModelState) error
	Load(ctx context.Context) (map[string]store.ModelState, error)
	Delete(ctx context.Context, id string) error
}

// Config configures a Registry.
type Config struct {
	// Catalog defaults to DefaultCatalog() when empty.
	Catalog []ModelDescriptor

	// AcquireTimeout bounds one fetch. Callers' contexts only bound their
	// own wait.
	AcquireTimeout time.Duration

	Fetcher Fetcher
	Inferer LocalInferer

	// States is optional; without it lifecycle state is lost on restart.
	States StateStore

	// Fingerprinter keys the result cache. Defaults to sha256/16.
	Fingerprinter *fingerprint.Fingerprinter

	ResultCacheSize int
	ResultCacheTTL  time.Duration
}

// Registry is the model catalog service.
type Registry struct {
	mu     sync.Mutex
	models map[string]*entry
	order  []string

	acquireTimeout time.Duration
	fetcher        Fetcher
	inferer        LocalInferer
	states         StateStore
	fp             *fingerprint.Fingerprinter

	group   singleflight.Group
	results *cache.LRU[string, *inference.Result]
	now     func() time.Time
}

type entry struct {
	desc ModelDescriptor
	acq  *acquisition
}

// New builds a registry and restores persisted states.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	catalog := cfg.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Minute
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = SimulatedFetcher{Steps: 10, StepDelay: 200 * time.Millisecond}
	}
	if cfg.Fingerprinter == nil {
		fp, err := fingerprint.New(fingerprint.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		cfg.Fingerprinter = fp
	}
	if cfg.Inferer == nil {
		cfg.Inferer = NewSimulatedInferer(cfg.Fingerprinter)
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = 256
	}

	r := &Registry{
		models:         make(map[string]*entry, len(catalog)),
		acquireTimeout: cfg.AcquireTimeout,
		fetcher:        cfg.Fetcher,
		inferer:        cfg.Inferer,
		states:         cfg.States,
		fp:             cfg.Fingerprinter,
		results:        cache.NewLRU[string, *inference.Result](cfg.ResultCacheSize, cfg.ResultCacheTTL),
		now:            time.Now,
	}

	for _, d := range catalog {
		if d.ID == "" {
			return nil, fmt.Errorf("registry: catalog entry %q has no id", d.Name)
		}
		if _, dup := r.models[d.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate catalog id %q", d.ID)
		}
		d = d.clone()
		d.State, d.Progress = StateUncached, 0
		r.models[d.ID] = &entry{desc: d}
		r.order = append(r.order, d.ID)
	}

	if r.states != nil {
		if err := r.restore(ctx); err != nil {
			return nil, err
		}
	}

	for _, id := range r.order {
		metrics.ModelState.WithLabelValues(id).Set(r.models[id].desc.State.gaugeValue())
	}
	return r, nil
}

// restore applies persisted Cached states. Anything else restarts as
// Uncached; an interrupted acquisition is not resumed.
func (r *Registry) restore(ctx context.Context) error {
	saved, err := r.states.Load(ctx)
	if err != nil {
		return fmt.Errorf("registry: load states: %w", err)
	}
	restored := 0
	for id, s := range saved {
		e, ok := r.models[id]
		if !ok {
			logging.Debug().Str("model", id).Msg("Ignoring persisted state for model not in catalog")
			continue
		}
		if State(s.State) != StateCached {
			continue
		}
		e.desc.State = StateCached
		e.desc.Progress = 100
		e.desc.CachedAt = s.CachedAt
		e.desc.LastUsed = s.LastUsed
		restored++
	}
	if restored > 0 {
		logging.Info().Int("models", restored).Msg("Restored cached model states")
	}
	return nil
}

// List returns the catalog in configured order with current state.
func (r *Registry) List() []ModelDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshot(r.models[id]))
	}
	return out
}

// Get returns one model.
func (r *Registry) Get(id string) (ModelDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.models[id]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return r.snapshot(e), nil
}

// IsCached reports whether id is ready for local processing.
func (r *Registry) IsCached(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.models[id]
	return ok && e.desc.State == StateCached
}

// ModelForMode returns the first cached model, in catalog order, that
// supports mode.
func (r *Registry) ModelForMode(mode string) (ModelDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		e := r.models[id]
		if e.desc.State == StateCached && e.desc.Supports(mode) {
			return r.snapshot(e), true
		}
	}
	return ModelDescriptor{}, false
}

// snapshot copies e's descriptor, reading live progress. Caller holds mu.
func (r *Registry) snapshot(e *entry) ModelDescriptor {
	d := e.desc.clone()
	if e.acq != nil {
		d.Progress = e.acq.current()
	}
	return d
}

// Acquire makes id available locally. It returns nil at once when the
// model is cached and joins a running acquisition instead of starting a
// second one. onProgress may be nil; it receives non-decreasing percentages
// ending at 100 on success.
//
// ctx bounds only this caller's wait. The fetch keeps running while any
// caller still waits on it and is canceled when the last one gives up.
func (r *Registry) Acquire(ctx context.Context, id string, onProgress func(int)) error {
	return r.acquire(ctx, id, onProgress, true)
}

// TryAcquire is Acquire but fails with ErrDuplicateAcquisition instead of
// joining.
func (r *Registry) TryAcquire(ctx context.Context, id string, onProgress func(int)) error {
	return r.acquire(ctx, id, onProgress, false)
}

func (r *Registry) acquire(ctx context.Context, id string, onProgress func(int), join bool) error {
	r.mu.Lock()
	e, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	switch e.desc.State {
	case StateCached:
		r.mu.Unlock()
		metrics.ModelAcquisitions.WithLabelValues(id, "already_cached").Inc()
		if onProgress != nil {
			onProgress(100)
		}
		return nil

	case StateAcquiring:
		acq := e.acq
		if join {
			acq.join()
		}
		r.mu.Unlock()
		if !join {
			metrics.ModelAcquisitions.WithLabelValues(id, "rejected").Inc()
			return fmt.Errorf("%w: %s", ErrDuplicateAcquisition, id)
		}
		metrics.ModelAcquisitions.WithLabelValues(id, "joined").Inc()
		logging.Debug().Str("model", id).Msg("Joining in-flight model acquisition")
		acq.subscribe(onProgress)
		return acq.wait(ctx)
	}

	// The fetch outlives the caller that started it; it stops only when
	// every waiter has left or AcquireTimeout expires.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.acquireTimeout)
	acq := newAcquisition(cancel)
	acq.join()
	acq.subscribe(onProgress)
	e.acq = acq
	e.desc.State = StateAcquiring
	e.desc.Progress = 0
	desc := e.desc.clone()
	fetcher := r.fetcher
	r.mu.Unlock()

	metrics.ModelState.WithLabelValues(id).Set(StateAcquiring.gaugeValue())
	logging.Info().Str("model", id).Float64("size_mb", desc.SizeMB).Msg("Model acquisition started")

	go r.fetch(fetchCtx, cancel, fetcher, e, acq, desc)
	return acq.wait(ctx)
}

// fetch runs one acquisition to completion and records its outcome.
func (r *Registry) fetch(ctx context.Context, cancel context.CancelFunc, fetcher Fetcher, e *entry, acq *acquisition, desc ModelDescriptor) {
	defer cancel()

	started := r.now()
	err := fetcher.Fetch(ctx, desc, acq.report)
	if err != nil {
		err = fmt.Errorf("registry: acquire %s: %w", desc.ID, err)
	}

	r.finish(context.WithoutCancel(ctx), e, acq, err)
	if err != nil {
		logging.Warn().Err(err).Str("model", desc.ID).Msg("Model acquisition failed")
		return
	}
	logging.Info().Str("model", desc.ID).Dur("duration", r.now().Sub(started)).Msg("Model acquisition completed")
}

// finish records the outcome of an acquisition and releases waiters. The
// Cached state is persisted before mu is released so a concurrent Evict
// always deletes it after it is written.
func (r *Registry) finish(ctx context.Context, e *entry, acq *acquisition, err error) {
	now := r.now()

	r.mu.Lock()
	e.acq = nil
	if err == nil {
		e.desc.State = StateCached
		e.desc.Progress = 100
		e.desc.CachedAt = now
		e.desc.LastUsed = now
		r.persist(ctx, store.ModelState{
			ID:       e.desc.ID,
			State:    string(StateCached),
			CachedAt: e.desc.CachedAt,
			LastUsed: e.desc.LastUsed,
		})
	} else {
		e.desc.State = StateUncached
		e.desc.Progress = 0
	}
	id := e.desc.ID
	metrics.ModelState.WithLabelValues(id).Set(e.desc.State.gaugeValue())
	r.mu.Unlock()

	if err != nil {
		metrics.ModelAcquisitions.WithLabelValues(id, "failed").Inc()
		acq.finish(err)
		return
	}

	metrics.ModelAcquisitions.WithLabelValues(id, "completed").Inc()
	acq.report(100)
	acq.finish(nil)
}

// persist saves a state, logging and swallowing failures. Caller holds mu.
func (r *Registry) persist(ctx context.Context, s store.ModelState) {
	if r.states == nil {
		return
	}
	if err := r.states.Save(ctx, s); err != nil {
		logging.Warn().Err(err).Str("model", s.ID).Msg("Failed to persist model state")
	}
}

// Evict returns a cached model to Uncached and drops its cached results.
// Evicting an uncached model is a no-op.
func (r *Registry) Evict(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	switch e.desc.State {
	case StateAcquiring:
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAcquisitionInProgress, id)
	case StateUncached:
		r.mu.Unlock()
		return nil
	}
	e.desc.State = StateUncached
	e.desc.Progress = 0
	e.desc.CachedAt = time.Time{}
	if r.states != nil {
		if err := r.states.Delete(context.WithoutCancel(ctx), id); err != nil {
			logging.Warn().Err(err).Str("model", id).Msg("Failed to delete persisted model state")
		}
	}
	metrics.ModelState.WithLabelValues(id).Set(StateUncached.gaugeValue())
	r.mu.Unlock()

	prefix := id + "|"
	dropped := r.results.RemoveFunc(func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})

	logging.Info().Str("model", id).Int("cached_results", dropped).Msg("Model evicted")
	return nil
}

// Process runs the cached model id on req. It fails fast with
// ErrModelNotCached when the model is not ready; retrying is the caller's
// call.
func (r *Registry) Process(ctx context.Context, id string, req inference.Request) (*inference.Result, error) {
	if req.Empty() {
		return nil, inference.ErrEmptyRequest
	}

	r.mu.Lock()
	e, ok := r.models[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	if e.desc.State != StateCached {
		r.mu.Unlock()
		metrics.ModelProcessCalls.WithLabelValues(id, "not_cached").Inc()
		return nil, fmt.Errorf("%w: %s", ErrModelNotCached, id)
	}
	e.desc.LastUsed = r.now()
	desc := e.desc.clone()
	r.mu.Unlock()

	fp, err := payloadFingerprint(r.fp, req)
	if err != nil {
		return nil, fmt.Errorf("registry: fingerprint: %w", err)
	}
	key := id + "|" + req.Mode + "|" + fp

	if res, ok := r.results.Get(key); ok {
		metrics.ModelProcessCalls.WithLabelValues(id, "cached").Inc()
		return copyResult(res), nil
	}

	started := r.now()
	v, err, shared := r.group.Do(key, func() (interface{}, error) {
		res, err := r.inferer.Infer(ctx, desc, req)
		if err != nil {
			return nil, err
		}
		res.Source = inference.SourceLocal
		res.ModelID = id
		res.Mode = req.Mode
		res.Latency = r.now().Sub(started)
		r.results.Add(key, res)
		return res, nil
	})
	if err != nil {
		metrics.ModelProcessCalls.WithLabelValues(id, "error").Inc()
		return nil, fmt.Errorf("registry: process %s: %w", id, err)
	}

	outcome := "computed"
	if shared {
		outcome = "shared"
	}
	metrics.ModelProcessCalls.WithLabelValues(id, outcome).Inc()
	return copyResult(v.(*inference.Result)), nil
}

func copyResult(res *inference.Result) *inference.Result {
	c := *res
	c.Data = append([]byte(nil), res.Data...)
	return &c
}
