// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/verdant/internal/eventbus"
	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
	"github.com/tomtom215/verdant/internal/offline"
	"github.com/tomtom215/verdant/internal/patterns"
	"github.com/tomtom215/verdant/internal/registry"
	"github.com/tomtom215/verdant/internal/store"
)

type fakeAnalyzer struct {
	calls      atomic.Int32
	confidence float64
	err        error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req inference.Request) (*inference.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &inference.Result{
		Mode:       req.Mode,
		Data:       json.RawMessage(`{"label":"monstera"}`),
		Confidence: f.confidence,
		ModelID:    "remote-v3",
	}, nil
}

type capturePublisher struct {
	mu       sync.Mutex
	analyses []*eventbus.AnalysisStoredEvent
	links    []*eventbus.ConnectivityEvent
}

func (p *capturePublisher) PublishAnalysisStored(_ context.Context, e *eventbus.AnalysisStoredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analyses = append(p.analyses, e)
	return nil
}

func (p *capturePublisher) PublishConnectivity(_ context.Context, e *eventbus.ConnectivityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, e)
	return nil
}

type fixture struct {
	svc      *Service
	db       *store.DB
	registry *registry.Registry
	coord    *offline.Coordinator
	remote   *fakeAnalyzer
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	db, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	reg, err := registry.New(context.Background(), registry.Config{
		Fetcher: registry.SimulatedFetcher{Steps: 2},
		States:  db.ModelStates(),
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	f := &fixture{
		db:       db,
		registry: reg,
		coord:    offline.New(true),
		remote:   &fakeAnalyzer{confidence: 0.9},
	}
	cfg := Config{
		Store:       db,
		Registry:    reg,
		Coordinator: f.coord,
		Analyzer:    f.remote,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.svc, err = NewService(cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return f
}

func TestNewService_DigestUnavailable(t *testing.T) {
	db, err := store.Open(store.Config{InMemory: true})
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer db.Close()
	reg, err := registry.New(context.Background(), registry.Config{})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	_, err = NewService(Config{
		Store:       db,
		Registry:    reg,
		Fingerprint: fingerprint.Config{Algorithm: "md5"},
	})
	if !errors.Is(err, fingerprint.ErrDigestUnavailable) {
		t.Errorf("NewService() error = %v, want ErrDigestUnavailable", err)
	}
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Error("NewService(empty) returned nil error")
	}
}

func TestLookupOrFetch_RemoteThenCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := Request{Payload: []byte("leaf-photo-1"), Mode: "botanical"}

	first, err := f.svc.LookupOrFetch(ctx, req)
	if err != nil {
		t.Fatalf("first LookupOrFetch() error = %v", err)
	}
	if first.Source != inference.SourceRemote {
		t.Errorf("first Source = %q, want remote", first.Source)
	}
	if first.AnalysisID == "" {
		t.Error("remote result was not stored")
	}

	for i := 0; i < 3; i++ {
		again, err := f.svc.LookupOrFetch(ctx, req)
		if err != nil {
			t.Fatalf("repeat LookupOrFetch() error = %v", err)
		}
		if again.Source != inference.SourceCache {
			t.Errorf("repeat Source = %q, want cache", again.Source)
		}
		if again.AnalysisID != first.AnalysisID {
			t.Errorf("repeat AnalysisID = %q, want %q", again.AnalysisID, first.AnalysisID)
		}
		if string(again.Data) != `{"label":"monstera"}` {
			t.Errorf("repeat Data = %s", again.Data)
		}
	}
	if n := f.remote.calls.Load(); n != 1 {
		t.Errorf("remote called %d times, want 1", n)
	}

	// A different mode is a different key.
	other, err := f.svc.LookupOrFetch(ctx, Request{Payload: req.Payload, Mode: "health"})
	if err != nil {
		t.Fatalf("LookupOrFetch(health) error = %v", err)
	}
	if other.Source != inference.SourceRemote {
		t.Errorf("health Source = %q, want remote", other.Source)
	}
}

func TestLookupOrFetch_EncodedPayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := Request{Encoded: "data:image/png;base64,iVBORw0KGgo=", Mode: "structural"}

	if _, err := f.svc.LookupOrFetch(ctx, req); err != nil {
		t.Fatalf("LookupOrFetch() error = %v", err)
	}
	res, err := f.svc.LookupOrFetch(ctx, req)
	if err != nil {
		t.Fatalf("LookupOrFetch() error = %v", err)
	}
	if res.Source != inference.SourceCache {
		t.Errorf("Source = %q, want cache", res.Source)
	}
}

func TestLookupOrFetch_LowConfidenceIsNotServed(t *testing.T) {
	f := newFixture(t, nil)
	f.remote.confidence = 0.5
	ctx := context.Background()
	req := Request{Payload: []byte("blurry"), Mode: "botanical"}

	for i := 0; i < 2; i++ {
		res, err := f.svc.LookupOrFetch(ctx, req)
		if err != nil {
			t.Fatalf("LookupOrFetch() error = %v", err)
		}
		if res.Source != inference.SourceRemote {
			t.Errorf("call %d Source = %q, want remote", i, res.Source)
		}
	}
	if n := f.remote.calls.Load(); n != 2 {
		t.Errorf("remote called %d times, want 2", n)
	}
}

func TestLookupOrFetch_Offline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.coord.Set(false, "test")
	req := Request{Payload: []byte("leaf"), Mode: "botanical"}

	if _, err := f.svc.LookupOrFetch(ctx, req); !errors.Is(err, ErrOfflineUnavailable) {
		t.Fatalf("offline without model error = %v, want ErrOfflineUnavailable", err)
	}

	if err := f.svc.DownloadModel(ctx, "plant-classifier-v1", nil); err != nil {
		t.Fatalf("DownloadModel() error = %v", err)
	}
	res, err := f.svc.LookupOrFetch(ctx, req)
	if err != nil {
		t.Fatalf("offline with model error = %v", err)
	}
	if res.Source != inference.SourceLocal || res.ModelID != "plant-classifier-v1" {
		t.Errorf("result = %s/%s, want local/plant-classifier-v1", res.Source, res.ModelID)
	}
	if n := f.remote.calls.Load(); n != 0 {
		t.Errorf("remote called %d times while offline", n)
	}
}

func TestLookupOrFetch_OfflineServesCache(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	req := Request{Payload: []byte("leaf"), Mode: "botanical"}

	if _, err := f.svc.LookupOrFetch(ctx, req); err != nil {
		t.Fatalf("LookupOrFetch() error = %v", err)
	}
	f.coord.Set(false, "test")

	res, err := f.svc.LookupOrFetch(ctx, req)
	if err != nil {
		t.Fatalf("offline LookupOrFetch() error = %v", err)
	}
	if res.Source != inference.SourceCache {
		t.Errorf("Source = %q, want cache", res.Source)
	}
}

func TestLookupOrFetch_RemoteFailureFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.remote.err = fmt.Errorf("%w: breaker open", inference.ErrUnavailable)
	req := Request{Payload: []byte("leaf"), Mode: "structural"}

	_, err := f.svc.LookupOrFetch(ctx, req)
	if !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("error = %v, want inference.ErrUnavailable", err)
	}

	if err := f.svc.DownloadModel(ctx, "structure-analyzer-v1", nil); err != nil {
		t.Fatalf("DownloadModel() error = %v", err)
	}
	res, err := f.svc.LookupOrFetch(ctx, req)
	if err != nil {
		t.Fatalf("LookupOrFetch() after download error = %v", err)
	}
	if res.Source != inference.SourceLocal {
		t.Errorf("Source = %q, want local", res.Source)
	}
}

func TestLookupOrFetch_CacheWriteFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	res, err := f.svc.LookupOrFetch(context.Background(), Request{Payload: []byte("leaf"), Mode: "botanical"})
	if err != nil {
		t.Fatalf("LookupOrFetch() error = %v, want nil", err)
	}
	if res.Source != inference.SourceRemote || res.AnalysisID != "" {
		t.Errorf("result = %+v, want unstored remote result", res)
	}
}

func TestLookupOrFetch_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty payload", Request{Mode: "botanical"}, fingerprint.ErrEmptyPayload},
		{"missing mode", Request{Payload: []byte("x")}, ErrInvalidMode},
		{"bad mode", Request{Payload: []byte("x"), Mode: "Bad Mode"}, ErrInvalidMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.LookupOrFetch(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if n := f.remote.calls.Load(); n != 0 {
		t.Errorf("remote called %d times for invalid input", n)
	}
}

func TestLookupOrFetch_PublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	f := newFixture(t, func(c *Config) { c.Events = pub })

	req := Request{
		Payload:  []byte("leaf"),
		Mode:     "botanical",
		Metadata: store.Metadata{CameraSetting: "macro", Effects: []string{"sharpen"}},
	}
	res, err := f.svc.LookupOrFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("LookupOrFetch() error = %v", err)
	}

	if len(pub.analyses) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.analyses))
	}
	e := pub.analyses[0]
	if e.AnalysisID != res.AnalysisID || e.Mode != "botanical" || e.CameraSetting != "macro" {
		t.Errorf("event = %+v", e)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("event Validate() error = %v", err)
	}

	if err := f.svc.ReportConnectivity(context.Background(), false, "test"); err != nil {
		t.Fatalf("ReportConnectivity() error = %v", err)
	}
	if len(pub.links) != 1 || pub.links[0].Online {
		t.Errorf("connectivity events = %+v", pub.links)
	}
}

func TestLookupOrFetch_FeedsLearnerWithoutBus(t *testing.T) {
	var learner *patterns.Learner
	f := newFixture(t, func(c *Config) {
		learner = patterns.New(c.Store.Patterns(), c.Store.Suggestions(), patterns.Config{})
		c.Learner = learner
	})
	ctx := context.Background()

	for _, conf := range []float64{0.81, 0.85, 0.9, 0.88} {
		f.remote.confidence = conf
		req := Request{
			Payload:  []byte(fmt.Sprintf("leaf-%v", conf)),
			Mode:     "botanical",
			Metadata: store.Metadata{CameraSetting: "macro", Effects: []string{"sharpen"}},
		}
		if _, err := f.svc.LookupOrFetch(ctx, req); err != nil {
			t.Fatalf("LookupOrFetch() error = %v", err)
		}
	}

	got, err := f.svc.Suggestions(ctx, 0)
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != store.SuggestionMode || got[0].Value != "botanical" {
		t.Errorf("Suggestions() = %+v, want one botanical mode suggestion", got)
	}
}

func TestModelOperations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	const id = "plant-health-v1"

	if len(f.svc.ModelCatalog()) != len(registry.DefaultCatalog()) {
		t.Errorf("ModelCatalog() size mismatch")
	}
	if f.svc.IsModelCached(id) {
		t.Fatal("model cached before download")
	}

	var last int
	if err := f.svc.DownloadModel(ctx, id, func(p int) { last = p }); err != nil {
		t.Fatalf("DownloadModel() error = %v", err)
	}
	if last != 100 || !f.svc.IsModelCached(id) {
		t.Errorf("after download progress = %d cached = %v", last, f.svc.IsModelCached(id))
	}
	m, err := f.svc.Model(id)
	if err != nil || m.State != registry.StateCached {
		t.Errorf("Model() = %+v, %v", m, err)
	}

	if err := f.svc.EvictModel(ctx, id); err != nil {
		t.Fatalf("EvictModel() error = %v", err)
	}
	if f.svc.IsModelCached(id) {
		t.Error("model still cached after eviction")
	}
	if err := f.svc.DownloadModel(ctx, "missing", nil); !errors.Is(err, registry.ErrUnknownModel) {
		t.Errorf("DownloadModel(missing) error = %v", err)
	}
}

func TestCacheMaintenance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := Request{Payload: []byte(fmt.Sprintf("img-%d", i)), Mode: "botanical"}
		if _, err := f.svc.LookupOrFetch(ctx, req); err != nil {
			t.Fatalf("LookupOrFetch() error = %v", err)
		}
	}

	st, err := f.svc.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats() error = %v", err)
	}
	if st.Count != 3 {
		t.Errorf("Count = %d, want 3", st.Count)
	}

	n, err := f.svc.PurgeCache(ctx, 30)
	if err != nil || n != 0 {
		t.Errorf("PurgeCache(30) = %d, %v; want 0, nil", n, err)
	}
	n, err = f.svc.ClearCache(ctx)
	if err != nil || n != 3 {
		t.Errorf("ClearCache() = %d, %v; want 3, nil", n, err)
	}
	if err := f.svc.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestReportConnectivity_WithoutBus(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.svc.ReportConnectivity(context.Background(), false, "api"); err != nil {
		t.Fatalf("ReportConnectivity() error = %v", err)
	}
	if !f.svc.IsOffline() {
		t.Error("IsOffline() = false after offline report")
	}
	if s := f.svc.Connectivity(); s.Source != "api" {
		t.Errorf("Connectivity().Source = %q", s.Source)
	}
}
