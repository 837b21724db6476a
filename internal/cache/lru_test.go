// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestLRU_BasicOperations(t *testing.T) {
	c := NewLRU[string, int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	for key, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		got, ok := c.Get(key)
		if !ok || got != want {
			t.Errorf("Get(%q) = %d, %v; want %d, true", key, got, ok, want)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}

	c.Add("a", 10)
	if got, _ := c.Get("a"); got != 10 {
		t.Errorf("updated value = %d, want 10", got)
	}
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](3, time.Minute)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	c.Get("a")
	c.Add("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %s to be present", key)
		}
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
}

func TestLRU_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU[string, string](10, time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Add("k", "v")
	if !c.Contains("k") {
		t.Fatal("expected k before expiry")
	}

	now = now.Add(2 * time.Minute)
	if c.Contains("k") {
		t.Error("expected k to be expired")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("Get should miss expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on Get, Len() = %d", c.Len())
	}
}

func TestLRU_NoTTL(t *testing.T) {
	now := time.Now()
	c := NewLRU[int, int](2, 0)
	c.SetClock(func() time.Time { return now })
	c.Add(1, 1)
	now = now.Add(24 * time.Hour * 365)
	if _, ok := c.Get(1); !ok {
		t.Error("entries without TTL should never expire")
	}
}

func TestLRU_IsDuplicate(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, struct{}](10, time.Minute)
	c.SetClock(func() time.Time { return now })

	if c.IsDuplicate("msg-1") {
		t.Error("first sighting should not be a duplicate")
	}
	if !c.IsDuplicate("msg-1") {
		t.Error("second sighting should be a duplicate")
	}

	now = now.Add(2 * time.Minute)
	if c.IsDuplicate("msg-1") {
		t.Error("sighting after TTL should not be a duplicate")
	}
}

func TestLRU_RemoveAndCleanup(t *testing.T) {
	now := time.Now()
	c := NewLRU[string, int](10, time.Minute)
	c.SetClock(func() time.Time { return now })

	c.Add("model-a|1", 1)
	c.Add("model-a|2", 2)
	c.Add("model-b|1", 3)

	if !c.Remove("model-b|1") {
		t.Error("Remove should report presence")
	}
	if c.Remove("missing") {
		t.Error("Remove of missing key should return false")
	}

	removed := c.RemoveFunc(func(k string) bool { return k[:8] == "model-a|" })
	if removed != 2 || c.Len() != 0 {
		t.Errorf("RemoveFunc removed %d, Len() = %d", removed, c.Len())
	}

	c.Add("x", 1)
	now = now.Add(2 * time.Minute)
	c.Add("y", 2)
	if n := c.CleanupExpired(); n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Clear left %d entries", c.Len())
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU[string, int](100, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := strconv.Itoa((g*500 + i) % 150)
				c.Add(key, i)
				c.Get(key)
				c.IsDuplicate(key)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity", c.Len())
	}
}

func TestNewLRU_DefaultCapacity(t *testing.T) {
	c := NewLRU[string, int](0, 0)
	if c.capacity != DefaultCapacity {
		t.Errorf("capacity = %d, want %d", c.capacity, DefaultCapacity)
	}
}
