// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

/*
Package patterns learns how the camera is used and turns dominant habits
into short-lived suggestions.

Every stored analysis is one occurrence of a (mode, camera setting,
effects) tuple. Occurrences are folded into one UsagePattern row per tuple:
frequency counts them and AvgConfidence is an exponential moving average

	avg = alpha*confidence + (1-alpha)*avg

with alpha = DefaultSmoothing unless configured otherwise.

RegenerateSuggestions ranks patterns by frequency and emits a mode
suggestion for each of the top patterns that clears both the frequency and
the confidence gate. Suggestions expire after SuggestionTTL.
*/
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/verdant/internal/logging"
	"github.com/tomtom215/verdant/internal/metrics"
	"github.com/tomtom215/verdant/internal/store"
)

// Defaults.
const (
	DefaultSmoothing     = 0.3
	DefaultMaxPatterns   = 500
	DefaultTopPatterns   = 3
	DefaultMinFrequency  = 3
	DefaultMinConfidence = 0.8
	DefaultSuggestionTTL = time.Hour
	DefaultLimit         = 5

	// maxRelatedModes bounds UsagePattern.RelatedModes.
	maxRelatedModes = 8
)

// ErrInvalidOccurrence is returned for occurrences without a mode or with a
// confidence outside [0, 1].
var ErrInvalidOccurrence = errors.New("patterns: invalid occurrence")

// Config tunes the learner. Zero values take the defaults above.
type Config struct {
	Smoothing     float64
	MaxPatterns   int
	TopPatterns   int
	MinFrequency  int64
	MinConfidence float64
	SuggestionTTL time.Duration
	DefaultLimit  int
}

// Occurrence is one observed use of the camera.
type Occurrence struct {
	Mode          string
	CameraSetting string
	Effects       []string
	Confidence    float64
	ObservedAt    time.Time
}

// Learner maintains usage patterns and suggestions.
type Learner struct {
	patterns    *store.Patterns
	suggestions *store.Suggestions
	config      Config
	now         func() time.Time

	mu       sync.Mutex
	lastMode string
}

// New creates a learner over the given collections.
func New(patterns *store.Patterns, suggestions *store.Suggestions, cfg Config) *Learner {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MaxPatterns < 0 {
		cfg.MaxPatterns = 0
	}
	if cfg.TopPatterns <= 0 {
		cfg.TopPatterns = DefaultTopPatterns
	}
	if cfg.MinFrequency <= 0 {
		cfg.MinFrequency = DefaultMinFrequency
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.SuggestionTTL <= 0 {
		cfg.SuggestionTTL = DefaultSuggestionTTL
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	return &Learner{
		patterns:    patterns,
		suggestions: suggestions,
		config:      cfg,
		now:         time.Now,
	}
}

// PatternKey is the pattern id for a tuple. Effects are order-insensitive.
// Fields are query-escaped so separators inside values cannot merge two
// tuples into one key.
func PatternKey(mode, cameraSetting string, effects []string) string {
	normalized := normalizeEffects(effects)
	escaped := make([]string, len(normalized))
	for i, e := range normalized {
		escaped[i] = url.QueryEscape(e)
	}
	return url.QueryEscape(mode) + "|" + url.QueryEscape(cameraSetting) + "|" + strings.Join(escaped, ",")
}

func normalizeEffects(effects []string) []string {
	out := make([]string, 0, len(effects))
	for _, e := range effects {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// RecordOccurrence folds occ into its pattern and enforces the pattern cap.
func (l *Learner) RecordOccurrence(ctx context.Context, occ Occurrence) (*store.UsagePattern, error) {
	if occ.Mode == "" {
		return nil, fmt.Errorf("%w: mode is required", ErrInvalidOccurrence)
	}
	if math.IsNaN(occ.Confidence) || occ.Confidence < 0 || occ.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v", ErrInvalidOccurrence, occ.Confidence)
	}
	at := occ.ObservedAt
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()
	effects := normalizeEffects(occ.Effects)
	id := PatternKey(occ.Mode, occ.CameraSetting, effects)

	l.mu.Lock()
	previous := l.lastMode
	l.lastMode = occ.Mode
	l.mu.Unlock()

	alpha := l.config.Smoothing
	pattern, created, err := l.patterns.Upsert(ctx, id, func(p *store.UsagePattern, created bool) error {
		if created {
			p.Mode = occ.Mode
			p.CameraSetting = occ.CameraSetting
			p.Effects = effects
			p.Frequency = 1
			p.FirstSeen = at
			p.LastSeen = at
			p.AvgConfidence = occ.Confidence
		} else {
			p.Frequency++
			if at.After(p.LastSeen) {
				p.LastSeen = at
			}
			p.AvgConfidence = alpha*occ.Confidence + (1-alpha)*p.AvgConfidence
		}
		if previous != "" && previous != occ.Mode && !slices.Contains(p.RelatedModes, previous) {
			p.RelatedModes = append(p.RelatedModes, previous)
			if len(p.RelatedModes) > maxRelatedModes {
				p.RelatedModes = p.RelatedModes[len(p.RelatedModes)-maxRelatedModes:]
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("patterns: record occurrence: %w", err)
	}

	kind := "updated"
	if created {
		kind = "created"
	}
	metrics.PatternUpserts.WithLabelValues(kind).Inc()

	if l.config.MaxPatterns > 0 {
		evicted, err := l.patterns.DeleteLeastRecentlySeen(ctx, l.config.MaxPatterns)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to enforce pattern cap")
		} else if evicted > 0 {
			metrics.PatternsEvicted.Add(float64(evicted))
			logging.Debug().Int("evicted", evicted).Int("cap", l.config.MaxPatterns).Msg("Evicted least recently seen patterns")
		}
	}
	return pattern, nil
}

// RegenerateSuggestions drops expired suggestions and emits fresh ones for
// the dominant patterns. It returns the suggestions written in this pass.
func (l *Learner) RegenerateSuggestions(ctx context.Context) ([]store.Suggestion, error) {
	now := l.now()
	if _, err := l.prune(ctx, now); err != nil {
		return nil, err
	}

	all, err := l.patterns.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("patterns: list: %w", err)
	}
	rankPatterns(all)

	var (
		emitted []store.Suggestion
		seen    = make(map[string]bool)
	)
	for i := 0; i < len(all) && i < l.config.TopPatterns; i++ {
		p := all[i]
		if p.Frequency <= l.config.MinFrequency || p.AvgConfidence <= l.config.MinConfidence {
			continue
		}
		// A lower ranked pattern of the same mode would only overwrite the
		// stronger suggestion.
		if seen[p.Mode] {
			continue
		}
		seen[p.Mode] = true

		s := store.Suggestion{
			Type:       store.SuggestionMode,
			Value:      p.Mode,
			Reason:     modeReason(p),
			Confidence: p.AvgConfidence,
			PatternID:  p.ID,
			CreatedAt:  now,
		}
		if _, err := l.suggestions.Replace(ctx, &s); err != nil {
			return emitted, fmt.Errorf("patterns: write suggestion: %w", err)
		}
		emitted = append(emitted, s)
	}

	metrics.SuggestionsGenerated.Add(float64(len(emitted)))
	logging.Debug().Int("patterns", len(all)).Int("suggestions", len(emitted)).Msg("Suggestions regenerated")
	return emitted, nil
}

// rankPatterns sorts by frequency desc, then most recently seen, then id.
func rankPatterns(ps []store.UsagePattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.ID < b.ID
	})
}

func modeReason(p store.UsagePattern) string {
	return fmt.Sprintf("You often use %s mode (%d times, %d%% avg confidence)",
		p.Mode, p.Frequency, int(math.Round(p.AvgConfidence*100)))
}

// GetSuggestions returns live suggestions ordered by confidence, then most
// recent first. limit <= 0 uses the configured default.
func (l *Learner) GetSuggestions(ctx context.Context, limit int) ([]store.Suggestion, error) {
	if limit <= 0 {
		limit = l.config.DefaultLimit
	}
	live, err := l.suggestions.List(ctx, l.now().Add(-l.config.SuggestionTTL))
	if err != nil {
		return nil, fmt.Errorf("patterns: list suggestions: %w", err)
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].Confidence != live[j].Confidence {
			return live[i].Confidence > live[j].Confidence
		}
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	if len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

// PruneStale deletes suggestions older than the TTL.
func (l *Learner) PruneStale(ctx context.Context) (int, error) {
	return l.prune(ctx, l.now())
}

func (l *Learner) prune(ctx context.Context, now time.Time) (int, error) {
	n, err := l.suggestions.DeleteCreatedBefore(ctx, now.Add(-l.config.SuggestionTTL))
	if err != nil {
		return 0, fmt.Errorf("patterns: prune suggestions: %w", err)
	}
	if n > 0 {
		metrics.SuggestionsPruned.Add(float64(n))
	}
	return n, nil
}
