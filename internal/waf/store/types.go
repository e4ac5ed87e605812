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

// Package store is the config store client: it pulls the WAF's live
// configuration (vhosts, endpoints, thresholds, keyword/pattern policy,
// defense profiles, CAPTCHA providers, fingerprint profiles, IP allowlist)
// out of Redis and hands back typed, ready-to-cache records. It also hosts
// the idempotent flush path used to durably commit in-memory accumulator
// deltas (rate-limit / ip-spam-score) and the CAPTCHA/audit archive.
package store

import "context"

// RawVhost is the unconverted per-vhost hash pulled from
// "waf:vhost:<id>".
type RawVhost struct {
	ID       string
	Patterns []string // hostnames/wildcards this vhost answers to
	Priority int
	Fields   map[string]string // mode, profile_id, and free-form overrides
}

// RawEndpoint is the unconverted per-endpoint hash pulled from
// "waf:endpoint:<id>".
type RawEndpoint struct {
	ID         string
	VhostID    string // empty for global-scope endpoints
	PathRule   string
	Methods    []string
	Priority   int
	IsRegex    bool
	Fields     map[string]string
}

// RawProfile is a defense profile document pulled from "waf:profile:<id>",
// stored as opaque JSON — the executor package owns decoding it into a
// graph, since only it knows the node/edge schema.
type RawProfile struct {
	ID      string
	Extends string
	JSON    []byte
	Version int64
}

// RawKeywordSet is the pulled contents of one scope's keyword sets: the
// block set and the scored flag set.
type RawKeywordSet struct {
	Scope  string // "global", "vhost:<id>", "endpoint:<id>"
	Block  []string
	Flag   map[string]int // member -> score, taken from the flag sorted set's scores
}

// RawPatternSet is the pulled contents of a pattern-policy set.
type RawPatternSet struct {
	Scope    string
	Disabled []string
	Custom   []string
}

// RawThresholds is the unconverted "waf:config:thresholds" hash, scoped the
// same way as RawKeywordSet.
type RawThresholds struct {
	Scope  string
	Fields map[string]string
}

// RawCaptchaProvider is one "waf:captcha:provider:<name>" hash, listed in
// the "waf:index:captcha" set.
type RawCaptchaProvider struct {
	Name      string
	SiteKey   string
	SecretKey string
	VerifyURL string
}

// RawFingerprintProfile is one "waf:fingerprint:profile:<id>" hash, listed
// in the "waf:index:fingerprint" set.
type RawFingerprintProfile struct {
	ID        string
	RateLimit int64
	Fields    map[string]string
}

// Snapshot is everything a single pull cycle retrieved. The sync
// coordinator hands this to the hot cache for conversion/compilation and
// atomic swap; store itself does no caching.
type Snapshot struct {
	Vhosts      []RawVhost
	Endpoints   []RawEndpoint
	Profiles    []RawProfile
	Keywords    []RawKeywordSet
	Patterns    []RawPatternSet
	Thresholds  []RawThresholds
	Allowlist   []string // CIDR/IP literals
	Captcha     []RawCaptchaProvider
	Fingerprint []RawFingerprintProfile
	PulledAtUTC int64 // unix seconds, set by RedisConfigClient.Pull when the pull completes
}

// ConfigClient is the minimal surface the sync coordinator needs from a
// config store backend. A single Pull both connects the pieces and bounds
// the whole cycle under one context deadline, per the fixed-pull-order
// requirement: implementations must pull vhosts/endpoints before profiles
// before thresholds, so that a mid-cycle failure never leaves profiles
// referencing endpoints the snapshot doesn't have yet.
type ConfigClient interface {
	Pull(ctx context.Context) (Snapshot, error)
}

// AccumulatorDelta is the flush-path shape for a single accumulator commit:
// the key is the rate-limit or spam-score subject (IP, fingerprint, or
// endpoint composite), Vector is the signed delta to apply durably, and
// CommitID is the idempotency token that makes a retried flush a no-op.
type AccumulatorDelta struct {
	Key      string
	Vector   int64
	CommitID string
}

// DeltaFlusher durably applies a batch of accumulator deltas. Implementations
// must make re-applying the same CommitID for the same Key a no-op.
type DeltaFlusher interface {
	CommitBatch(ctx context.Context, deltas []AccumulatorDelta) error
}
