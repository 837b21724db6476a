// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package fingerprint

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func mustNew(t *testing.T, cfg Config) *Fingerprinter {
	t.Helper()
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) error = %v", cfg, err)
	}
	return f
}

func TestFromBytes_Deterministic(t *testing.T) {
	for _, algo := range []string{AlgorithmSHA256, AlgorithmBLAKE2b} {
		t.Run(algo, func(t *testing.T) {
			f := mustNew(t, Config{Algorithm: algo})
			payload := bytes.Repeat([]byte{0xFF, 0xD8, 0x01}, 500)

			a, err := f.FromBytes(payload)
			if err != nil {
				t.Fatal(err)
			}
			b, _ := f.FromBytes(payload)
			if a != b {
				t.Errorf("fingerprint not deterministic: %s vs %s", a, b)
			}
			if len(a) != DefaultLength || !hexPattern.MatchString(a) {
				t.Errorf("fingerprint %q should be %d lowercase hex characters", a, DefaultLength)
			}
		})
	}
}

func TestAlgorithmsDiffer(t *testing.T) {
	payload := []byte("leaf image bytes")
	s, _ := mustNew(t, Config{Algorithm: AlgorithmSHA256}).FromBytes(payload)
	b, _ := mustNew(t, Config{Algorithm: AlgorithmBLAKE2b}).FromBytes(payload)
	if s == b {
		t.Error("sha256 and blake2b fingerprints should differ")
	}
}

func TestFromBytes_KnownVector(t *testing.T) {
	// sha256("abc") = ba7816bf8f01cfea414140de5dae2223...
	got, err := mustNew(t, DefaultConfig()).FromBytes([]byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "ba7816bf8f01cfea" {
		t.Errorf("FromBytes(abc) = %s, want ba7816bf8f01cfea", got)
	}
}

func TestPrefixCollision(t *testing.T) {
	f := mustNew(t, DefaultConfig())
	prefix := strings.Repeat("A", DefaultSampleSize)

	a, _ := f.FromString("data:image/jpeg;base64," + prefix + "tail-one")
	b, _ := f.FromString("data:image/jpeg;base64," + prefix + "tail-two")
	if a != b {
		t.Error("payloads sharing the sampled prefix must collide")
	}

	c, _ := f.FromString("data:image/jpeg;base64,B" + prefix)
	if a == c {
		t.Error("payloads differing inside the sample must not collide")
	}
}

func TestSampleSizeAndLength(t *testing.T) {
	f := mustNew(t, Config{SampleSize: 4, Length: 32})
	a, _ := f.FromBytes([]byte("abcdXXXX"))
	b, _ := f.FromBytes([]byte("abcdYYYY"))
	if a != b {
		t.Error("bytes beyond SampleSize must not affect the fingerprint")
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}

	long := mustNew(t, Config{Length: 500})
	fp, _ := long.FromBytes([]byte("x"))
	if len(fp) != 64 {
		t.Errorf("length should clamp to full digest, got %d", len(fp))
	}
}

func TestErrors(t *testing.T) {
	f := mustNew(t, DefaultConfig())
	if _, err := f.FromBytes(nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("FromBytes(nil) error = %v, want ErrEmptyPayload", err)
	}
	if _, err := f.FromString(""); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("FromString(\"\") error = %v, want ErrEmptyPayload", err)
	}
	if _, err := New(Config{Algorithm: "md4"}); !errors.Is(err, ErrDigestUnavailable) {
		t.Errorf("New(md4) error = %v, want ErrDigestUnavailable", err)
	}
}

func TestConcurrentUse(t *testing.T) {
	f := mustNew(t, DefaultConfig())
	want, _ := f.FromBytes([]byte("shared payload"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got, _ := f.FromBytes([]byte("shared payload")); got != want {
					t.Errorf("concurrent fingerprint = %s, want %s", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
}
