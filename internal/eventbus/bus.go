// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package eventbus is the in-process message bus connecting the analysis
pipeline to its background consumers.

Messages travel over a watermill GoChannel pub/sub and are dispatched by a
watermill Router with this middleware stack (outer to inner):

  - Recoverer: panics become handler errors
  - Deduplicator: redelivered message ids are acknowledged and dropped
  - Retry: exponential backoff for transient handler failures

Delivery is at-least-once. Messages published while no handler is
subscribed are dropped, so publishers treat the bus as best effort.
*/
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/verdant/internal/cache"
	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("eventbus: closed")

// Config holds bus and router settings.
type Config struct {
	// BufferSize is the per-subscriber output channel buffer.
	BufferSize int64

	// CloseTimeout bounds how long Close waits for in-flight handlers.
	CloseTimeout time.Duration

	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64

	DeduplicationEnabled  bool
	DeduplicationTTL      time.Duration
	DeduplicationCapacity int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:            256,
		CloseTimeout:          10 * time.Second,
		RetryMaxRetries:       3,
		RetryInitialInterval:  100 * time.Millisecond,
		RetryMaxInterval:      5 * time.Second,
		RetryMultiplier:       2.0,
		DeduplicationEnabled:  true,
		DeduplicationTTL:      10 * time.Minute,
		DeduplicationCapacity: 10000,
	}
}

// Deduplicator implements middleware.ExpiringKeyRepository on top of the
// LRU cache.
type Deduplicator struct {
	cache *cache.LRU[string, struct{}]
}

// NewDeduplicator creates a deduplicator remembering up to capacity ids
// for ttl.
func NewDeduplicator(capacity int, ttl time.Duration) *Deduplicator {
	return &Deduplicator{cache: cache.NewLRU[string, struct{}](capacity, ttl)}
}

// IsDuplicate reports whether key was seen within the TTL and records it.
func (d *Deduplicator) IsDuplicate(_ context.Context, key string) (bool, error) {
	return d.cache.IsDuplicate(key), nil
}

// Bus owns the pub/sub and the router.
type Bus struct {
	config Config
	pubsub *gochannel.GoChannel
	router *message.Router
	logger watermill.LoggerAdapter
	dedup  *Deduplicator

	mu       sync.Mutex
	handlers map[string]*message.Handler
	closed   atomic.Bool
	running  atomic.Bool
}

// New creates a bus. Handlers must be added before Run.
func New(cfg Config) (*Bus, error) {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = def.RetryInitialInterval
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = def.RetryMaxInterval
	}
	if cfg.RetryMultiplier <= 0 {
		cfg.RetryMultiplier = def.RetryMultiplier
	}
	if cfg.DeduplicationTTL <= 0 {
		cfg.DeduplicationTTL = def.DeduplicationTTL
	}
	if cfg.DeduplicationCapacity <= 0 {
		cfg.DeduplicationCapacity = def.DeduplicationCapacity
	}

	logger := watermill.NewSlogLogger(logging.NewComponentSlogLogger("eventbus"))

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	b := &Bus{
		config:   cfg,
		pubsub:   pubsub,
		router:   router,
		logger:   logger,
		handlers: make(map[string]*message.Handler),
	}

	router.AddMiddleware(middleware.Recoverer)

	if cfg.DeduplicationEnabled {
		b.dedup = NewDeduplicator(cfg.DeduplicationCapacity, cfg.DeduplicationTTL)
		dedup := middleware.Deduplicator{
			KeyFactory: func(msg *message.Message) (string, error) {
				return msg.UUID, nil
			},
			Repository: b.dedup,
			Timeout:    time.Second,
		}
		router.AddMiddleware(dedup.Middleware)
	}

	// Retry sits inside the deduplicator so a retried attempt is not
	// mistaken for a redelivery.
	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	return b, nil
}

// HandlerFunc processes one message. Returning an error triggers a retry;
// after the last retry the message is dropped and logged.
type HandlerFunc func(ctx context.Context, msg *message.Message) error

// AddConsumer subscribes handler to topic under a unique name.
func (b *Bus) AddConsumer(name, topic string, handler HandlerFunc) *message.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.router.AddConsumerHandler(name, topic, b.pubsub, func(msg *message.Message) error {
		ctx := msg.Context()
		if id := msg.Metadata.Get(MetadataCorrelationID); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		}
		if err := handler(ctx, msg); err != nil {
			metrics.EventsHandled.WithLabelValues(name, "error").Inc()
			return err
		}
		metrics.EventsHandled.WithLabelValues(name, "success").Inc()
		return nil
	})
	b.handlers[name] = h
	return h
}

// Publish encodes payload and publishes it on topic. id becomes the message
// UUID; an empty id gets a random one.
func (b *Bus) Publish(ctx context.Context, topic, id string, payload any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msg, err := newMessage(id, payload)
	if err != nil {
		return err
	}
	msg.Metadata.Set(MetadataTopic, topic)
	if cid := logging.CorrelationIDFromContext(ctx); cid != "" {
		msg.Metadata.Set(MetadataCorrelationID, cid)
	}
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
	return nil
}

// PublishAnalysisStored publishes e on TopicAnalysisStored.
func (b *Bus) PublishAnalysisStored(ctx context.Context, e *AnalysisStoredEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid analysis event: %w", err)
	}
	return b.Publish(ctx, TopicAnalysisStored, e.EventID, e)
}

// PublishConnectivity publishes e on TopicConnectivityChanged.
func (b *Bus) PublishConnectivity(ctx context.Context, e *ConnectivityEvent) error {
	return b.Publish(ctx, TopicConnectivityChanged, e.EventID, e)
}

// Run starts the router and blocks until ctx is canceled or Close is
// called.
func (b *Bus) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)
	return b.router.Run(ctx)
}

// Running returns a channel closed once every handler is subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// IsRunning reports whether the router loop is active.
func (b *Bus) IsRunning() bool {
	return b.running.Load() && b.router.IsRunning()
}

// Handlers returns the number of registered handlers.
func (b *Bus) Handlers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// Close stops the router, then the pub/sub. Safe to call twice.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := b.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close router: %w", err))
	}
	if err := b.pubsub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pubsub: %w", err))
	}
	return errors.Join(errs...)
}
