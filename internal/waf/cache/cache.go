// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"sync/atomic"
)

// Cache is the per-worker hot cache. Readers never block writers and
// writers never mutate visible state in place: Put constructs a new
// Snapshot and atomically swaps the pointer, exactly like
// telemetry/churn/exporter.go's atomic.Value-held Config snapshot,
// generalized here to atomic.Pointer[Snapshot].
type Cache struct {
	current atomic.Pointer[Snapshot]

	Regex       *RegexLRU
	Inheritance *InheritanceLRU
}

// New returns an empty cache, ready for its first Put. Until the first
// snapshot lands, Current returns nil and callers should treat the WAF as
// unconfigured (fail open per §7 — the sync coordinator's one-shot seeding
// ensures this window is brief).
func New() *Cache {
	return &Cache{
		Regex:       NewRegexLRU(100),
		Inheritance: NewInheritanceLRU(100),
	}
}

// Current returns the presently-visible snapshot. The returned pointer is
// immutable and safe to hold for an entire request's lifetime (§4.B, §8 P10
// — snapshot isolation even if a sync tick swaps the pointer mid-request).
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Put atomically swaps in a new snapshot, keeping whatever version the
// caller set on it. The version passed in is normally the prior version + 1; callers
// (the sync coordinator) own the monotonic counter so that a version bump
// can be observed without reading back through the cache.
func (c *Cache) Put(snap *Snapshot) {
	if snap == nil {
		return
	}
	c.current.Store(snap)
}

// Version returns the version of the currently-visible snapshot, or 0 if
// none has been put yet.
func (c *Cache) Version() int64 {
	s := c.current.Load()
	if s == nil {
		return 0
	}
	return s.Version
}
