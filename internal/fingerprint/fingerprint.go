// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

// Package fingerprint derives short content keys from image payloads.
//
// Only a leading sample of the payload is hashed. Two payloads that agree on
// the first SampleSize bytes (or encoded characters) produce the same
// fingerprint; the cache key also includes the analysis mode, and a rare
// false-positive hit only costs a stale answer, never corruption.
package fingerprint

import (
	"crypto"
	_ "crypto/sha256" // registers crypto.SHA256
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Supported digest algorithms.
const (
	AlgorithmSHA256  = "sha256"
	AlgorithmBLAKE2b = "blake2b"
)

// Defaults.
const (
	DefaultSampleSize = 1000
	DefaultLength     = 16
)

var (
	// ErrEmptyPayload is returned for zero-length input.
	ErrEmptyPayload = errors.New("fingerprint: empty payload")

	// ErrDigestUnavailable means the configured hash cannot be constructed.
	// The cache layer must not start without a working digest.
	ErrDigestUnavailable = errors.New("fingerprint: digest unavailable")
)

// Config selects the digest and output shape.
type Config struct {
	Algorithm  string
	SampleSize int
	Length     int
}

// DefaultConfig returns sha256 over 1000 bytes truncated to 16 hex digits.
func DefaultConfig() Config {
	return Config{
		Algorithm:  AlgorithmSHA256,
		SampleSize: DefaultSampleSize,
		Length:     DefaultLength,
	}
}

// Fingerprinter computes fingerprints. It holds no mutable state and is safe
// for concurrent use.
type Fingerprinter struct {
	algorithm  string
	sampleSize int
	length     int
	newHash    func() (hash.Hash, error)
}

// New validates cfg and probes the digest once.
func New(cfg Config) (*Fingerprinter, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmSHA256
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}

	var newHash func() (hash.Hash, error)
	switch strings.ToLower(cfg.Algorithm) {
	case AlgorithmSHA256:
		newHash = func() (hash.Hash, error) {
			if !crypto.SHA256.Available() {
				return nil, ErrDigestUnavailable
			}
			return crypto.SHA256.New(), nil
		}
	case AlgorithmBLAKE2b:
		newHash = func() (hash.Hash, error) {
			h, err := blake2b.New256(nil)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDigestUnavailable, err)
			}
			return h, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrDigestUnavailable, cfg.Algorithm)
	}

	f := &Fingerprinter{
		algorithm:  strings.ToLower(cfg.Algorithm),
		sampleSize: cfg.SampleSize,
		newHash:    newHash,
	}

	h, err := newHash()
	if err != nil {
		return nil, err
	}
	maxLen := hex.EncodedLen(h.Size())
	if cfg.Length > maxLen {
		cfg.Length = maxLen
	}
	f.length = cfg.Length
	return f, nil
}

// Algorithm returns the digest name.
func (f *Fingerprinter) Algorithm() string {
	return f.algorithm
}

// FromBytes fingerprints a raw payload.
func (f *Fingerprinter) FromBytes(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	return f.digest(payload)
}

// FromString fingerprints the textual (base64 or data URL) form of a
// payload. The sample is taken from the encoded text, so the result differs
// from FromBytes on the decoded bytes.
func (f *Fingerprinter) FromString(encoded string) (string, error) {
	if encoded == "" {
		return "", ErrEmptyPayload
	}
	return f.digest([]byte(sample(encoded, f.sampleSize)))
}

func (f *Fingerprinter) digest(data []byte) (string, error) {
	h, err := f.newHash()
	if err != nil {
		return "", err
	}
	if len(data) > f.sampleSize {
		data = data[:f.sampleSize]
	}
	h.Write(data) //nolint:errcheck // hash.Hash.Write never fails
	return hex.EncodeToString(h.Sum(nil))[:f.length], nil
}

func sample(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
