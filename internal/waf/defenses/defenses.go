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

// Package defenses supplies the concrete defense/observation handlers the
// spec's §4.G.1 registries describe as capability contracts: keyword scan,
// honeypot, disposable-email check, content hash, GeoIP, IP reputation,
// rate limit, and fingerprint-profile match. Each is registered under the
// name a defense-profile node's "name" field references.
package defenses

import (
	"sync"

	"formwaf/internal/waf/executor"
	"formwaf/pkg/vsa"
)

// Handlers bundles the stateful pieces the concrete handlers need across
// requests: rate-limit accumulators and an optional GeoIP reader. It is
// constructed once at startup and its methods registered into the
// executor's registries.
type Handlers struct {
	mu      sync.Mutex
	buckets map[string]*vsa.VSA

	geoIP          GeoIPLookup
	disposableDoms map[string]struct{}
}

// GeoIPLookup abstracts a MaxMind-style country lookup so tests can stub it
// without a real database file. MaxMindLookup, wrapping a
// *maxminddb.Reader, satisfies this in production (see geoip.go).
type GeoIPLookup interface {
	CountryISOCode(ip string) (string, bool)
}

// New constructs handler state. geo may be nil (GeoIP handler then always
// returns a neutral "not_registered"-free score(0) result).
func New(geo GeoIPLookup) *Handlers {
	return &Handlers{
		buckets:        map[string]*vsa.VSA{},
		geoIP:          geo,
		disposableDoms: defaultDisposableDomains(),
	}
}

// RegisterAll wires every handler into the given defense/observation
// registries under the names a defense-profile node would reference.
func (h *Handlers) RegisterAll(defense, observation *executor.Registry) {
	defense.Register("keyword_scan", h.KeywordScan)
	defense.Register("honeypot", h.Honeypot)
	defense.Register("disposable_email", h.DisposableEmail)
	defense.Register("geoip", h.GeoIP)
	defense.Register("ip_reputation", h.IPReputation)
	defense.Register("rate_limit", h.RateLimit)
	defense.Register("ip_spam_score", h.IPSpamScore)
	defense.Register("fingerprint_rate_limit", h.FingerprintRateLimit)

	observation.Register("content_hash", h.ContentHash)
	observation.Register("pattern_scan", h.PatternScan)
}

// bucketFor returns (creating if necessary) the VSA accumulator for a given
// key, seeded with budget as its scalar on first use. Per-process state:
// each worker tracks its own in-flight window and periodically flushes to
// Redis via store.RedisFlusher (internal/waf/sync wires that tick).
func (h *Handlers) bucketFor(key string, budget int64) *vsa.VSA {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.buckets[key]
	if !ok {
		b = vsa.New(budget)
		h.buckets[key] = b
	}
	return b
}

// Buckets exposes the live accumulator map for the sync coordinator's
// periodic flush (internal/waf/sync reads State()/CheckCommit() on each).
func (h *Handlers) Buckets() map[string]*vsa.VSA {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*vsa.VSA, len(h.buckets))
	for k, v := range h.buckets {
		out[k] = v
	}
	return out
}
