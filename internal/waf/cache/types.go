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

// Package cache is the per-worker hot cache: a versioned, atomically-swapped
// in-memory snapshot of the WAF's live configuration, plus bounded LRU
// sub-caches for compiled regex and per-profile resolved inheritance. The
// sync coordinator is the only writer; request paths only ever read.
package cache

import (
	"net"

	"formwaf/internal/waf/config"
	"formwaf/internal/waf/store"
)

// HostPattern is one entry of a vhost's hostname-matching table.
type HostPattern struct {
	Pattern    string
	IsWildcard bool
	IsCatchAll bool
}

// Vhost is the typed, cache-resident view of a vhost record.
type Vhost struct {
	ID              string
	HostPatterns    []HostPattern
	Priority        int
	Enabled         bool
	WAFEnabled      bool
	Mode            config.Mode // "" if unset, meaning "inherit"
	Thresholds      config.Thresholds
	Keywords        config.KeywordPolicy
	Patterns        config.PatternPolicy
	Routing         config.Routing
	Security        config.Security
	Timing          config.Timing
	Behavioral      config.Behavioral
	DirectUpstreams []string
}

// PathRule is one entry of an endpoint-matching table (prefix or regex).
type PathRule struct {
	EndpointID string
	Pattern    string
	Method     string // "*" for any
	Priority   int
}

// EndpointTable holds the three match tables for one scope (a vhost id, or
// the empty string for the global scope), per §4.E.
type EndpointTable struct {
	Exact  map[string]string // "path" or "path|METHOD" -> endpoint id
	Prefix []PathRule        // pre-sorted longest-first, then priority
	Regex  []PathRule        // priority-ordered
}

// Endpoint is the typed, cache-resident view of an endpoint record.
type Endpoint struct {
	ID           string
	VhostID      string // "" for global scope
	Scope        config.Scope
	Methods      []string
	ContentTypes []string
	Mode         config.Mode
	Thresholds   config.Thresholds
	Keywords     config.KeywordPolicy
	Patterns     config.PatternPolicy
	Fields       config.FieldSpec
	Security     config.Security
	Timing       config.Timing
	RateLimit    config.RateLimit
	Captcha      config.CaptchaConfig
	Fingerprint  config.FingerprintConfig
	ProfileID    string
}

// VhostIndex is the hostname-resolution table assembled from every vhost
// record, pre-sorted per §4.D (wildcards by decreasing length, then
// priority).
type VhostIndex struct {
	Exact     map[string]string
	Wildcard  []HostPattern
	WildcardOwner map[string]string // pattern -> vhost id
	CatchAll  string // vhost id, "" if none
	DefaultID string
}

// Allowlist partitions the IP allowlist into an exact set and a list of
// parsed CIDR nets per §4.A; Contains scans the CIDR list linearly.
type Allowlist struct {
	Exact map[string]struct{}
	CIDRs []*net.IPNet
}

// Contains reports whether ip matches the allowlist, exact or CIDR.
func (a Allowlist) Contains(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if _, ok := a.Exact[ip.String()]; ok {
		return true
	}
	for _, n := range a.CIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// CaptchaProvider is the typed view of a CAPTCHA provider record.
type CaptchaProvider struct {
	Name      string
	SiteKey   string
	SecretKey string
	VerifyURL string
}

// FingerprintProfile is the typed view of a fingerprint-profile record.
type FingerprintProfile struct {
	ID        string
	RateLimit int64
	Fields    map[string]string
}

// Profile is a defense profile kept in raw JSON form: only the executor
// package knows the node/edge schema, so the cache stores it opaque; the
// inheritance-resolved form is held in InheritanceLRU (keyed by id+version).
type Profile struct {
	ID      string
	Extends string
	JSON    []byte
	Version int64
	Builtin bool
}

// Snapshot is one complete, immutable configuration view. A request holds a
// pointer to exactly one Snapshot for its whole execution (§4.B's "a
// request holds a stable snapshot pointer for its full execution").
type Snapshot struct {
	Version int64

	GlobalThresholds config.Thresholds
	GlobalKeywords   config.KeywordPolicy
	GlobalPatterns   config.PatternPolicy
	Routing          config.Routing

	Allowlist Allowlist

	VhostIndex VhostIndex
	Vhosts     map[string]Vhost

	EndpointTables map[string]EndpointTable // key: vhost id, or "" for global
	Endpoints      map[string]Endpoint

	Profiles map[string]Profile

	CaptchaProviders    map[string]CaptchaProvider
	FingerprintProfiles map[string]FingerprintProfile

	RawBlockedHashes map[string]struct{}

	PulledAtUTC int64
}

// RawSnapshot is a convenience alias so callers don't need to import
// both packages under different names in tests.
type RawSnapshot = store.Snapshot
