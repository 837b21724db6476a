// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/verdant/internal/fingerprint"
	"github.com/tomtom215/verdant/internal/inference"
)

// Fetcher makes a model available locally. It reports progress in percent
// through progress and returns once the model is usable or ctx ends.
type Fetcher interface {
	Fetch(ctx context.Context, model ModelDescriptor, progress func(percent int)) error
}

// LocalInferer runs a cached model.
type LocalInferer interface {
	Infer(ctx context.Context, model ModelDescriptor, req inference.Request) (*inference.Result, error)
}

// SimulatedFetcher reports progress in equal steps with a fixed delay
// between them.
type SimulatedFetcher struct {
	Steps     int
	StepDelay time.Duration
}

// Fetch implements Fetcher.
func (f SimulatedFetcher) Fetch(ctx context.Context, _ ModelDescriptor, progress func(int)) error {
	steps := f.Steps
	if steps <= 0 {
		steps = 10
	}
	progress(0)

	var timer *time.Timer
	if f.StepDelay > 0 {
		timer = time.NewTimer(f.StepDelay)
		defer timer.Stop()
	}
	for i := 1; i <= steps; i++ {
		if timer != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				timer.Reset(f.StepDelay)
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		progress(i * 100 / steps)
	}
	return nil
}

// labels are the classes SimulatedInferer can report.
var labels = []string{
	"Monstera deliciosa",
	"Ficus lyrata",
	"Epipremnum aureum",
	"Sansevieria trifasciata",
	"Calathea orbifolica",
	"Pilea peperomioides",
}

// SimulatedInferer produces deterministic results derived from the
// payload fingerprint: the same payload always yields the same label and
// confidence.
type SimulatedInferer struct {
	fp *fingerprint.Fingerprinter
}

// NewSimulatedInferer returns an inferer keyed by fp.
func NewSimulatedInferer(fp *fingerprint.Fingerprinter) *SimulatedInferer {
	return &SimulatedInferer{fp: fp}
}

// Infer implements LocalInferer.
func (s *SimulatedInferer) Infer(ctx context.Context, model ModelDescriptor, req inference.Request) (*inference.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := payloadFingerprint(s.fp, req)
	if err != nil {
		return nil, err
	}

	n, err := strconv.ParseUint((key + "0000")[:4], 16, 32)
	if err != nil {
		return nil, fmt.Errorf("simulated inference: %w", err)
	}
	data, err := json.Marshal(map[string]any{
		"label":       labels[int(n)%len(labels)],
		"model":       model.ID,
		"fingerprint": key,
		"simulated":   true,
	})
	if err != nil {
		return nil, err
	}
	return &inference.Result{
		Mode:       req.Mode,
		Data:       data,
		Confidence: 0.6 + float64(n%36)/100,
		ModelID:    model.ID,
		Source:     inference.SourceLocal,
	}, nil
}

func payloadFingerprint(fp *fingerprint.Fingerprinter, req inference.Request) (string, error) {
	if len(req.Payload) > 0 {
		return fp.FromBytes(req.Payload)
	}
	return fp.FromString(req.Encoded)
}
