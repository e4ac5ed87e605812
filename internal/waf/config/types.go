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

// Package config holds the typed configuration model shared by the config
// store client, the hot cache, the request-context resolver and the
// defense-profile executor: vhosts, endpoints, thresholds, keyword and
// pattern policy, routing, and the resolved EffectiveContext for a request.
package config

import "time"

// Mode is the WAF's enforcement posture for a vhost or endpoint.
type Mode string

const (
	ModeBlocking    Mode = "blocking"
	ModeMonitoring  Mode = "monitoring"
	ModePassthrough Mode = "passthrough"
	ModeStrict      Mode = "strict"
)

// MatchKind records how a vhost or endpoint was resolved, for debug headers
// and logs.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchWildcard MatchKind = "wildcard"
	MatchCatchAll MatchKind = "catchall"
	MatchDefault  MatchKind = "default"
	MatchPrefix   MatchKind = "prefix"
	MatchRegex    MatchKind = "regex"
	MatchNone     MatchKind = "none"
	MatchNoHost   MatchKind = "no_host"
)

// Scope distinguishes vhost-scoped endpoint tables from the global fallback.
type Scope string

const (
	ScopeVhost  Scope = "vhost"
	ScopeGlobal Scope = "global"
)

// Thresholds is the fully-typed view of the "waf:config:thresholds" hash
// map. Raw values come in as strings from the store; the client parses
// bool/int/string per §4.A, and the resolver deep-merges global -> vhost ->
// endpoint overlays on top of this shape.
type Thresholds struct {
	SpamScoreBlock        int64
	SpamScoreFlag         int64
	HashCountBlock        int64
	IPRateLimit           int64
	IPSpamScoreThreshold  int64
	FingerprintRateLimit  int64
	ExposeWAFHeaders      bool
	MaxExecutionTimeMS    int64
	ExecutionIterationCap int64
	// Extra carries any threshold key the store knows about that isn't one
	// of the named fields above, preserving forward compatibility with new
	// admin-plane knobs without a schema migration.
	Extra map[string]string
}

// Merge overlays non-zero/non-empty fields of o on top of t, returning a new
// Thresholds. A zero value in o never clobbers a set value in t: overlays
// are additive per §4.F.2 ("deep-merge on the typed map").
func (t Thresholds) Merge(o Thresholds) Thresholds {
	out := t
	if o.SpamScoreBlock != 0 {
		out.SpamScoreBlock = o.SpamScoreBlock
	}
	if o.SpamScoreFlag != 0 {
		out.SpamScoreFlag = o.SpamScoreFlag
	}
	if o.HashCountBlock != 0 {
		out.HashCountBlock = o.HashCountBlock
	}
	if o.IPRateLimit != 0 {
		out.IPRateLimit = o.IPRateLimit
	}
	if o.IPSpamScoreThreshold != 0 {
		out.IPSpamScoreThreshold = o.IPSpamScoreThreshold
	}
	if o.FingerprintRateLimit != 0 {
		out.FingerprintRateLimit = o.FingerprintRateLimit
	}
	if o.MaxExecutionTimeMS != 0 {
		out.MaxExecutionTimeMS = o.MaxExecutionTimeMS
	}
	if o.ExecutionIterationCap != 0 {
		out.ExecutionIterationCap = o.ExecutionIterationCap
	}
	out.ExposeWAFHeaders = out.ExposeWAFHeaders || o.ExposeWAFHeaders
	if len(o.Extra) > 0 {
		merged := make(map[string]string, len(out.Extra)+len(o.Extra))
		for k, v := range out.Extra {
			merged[k] = v
		}
		for k, v := range o.Extra {
			merged[k] = v
		}
		out.Extra = merged
	}
	return out
}

// Strict returns a copy of t with every score/rate threshold lowered by 25%
// (each value minus its floor-division by 4), per §4.F.1's "strict" mode
// semantics. MaxExecutionTimeMS and ExecutionIterationCap are unchanged.
func (t Thresholds) Strict() Thresholds {
	out := t
	out.SpamScoreBlock -= out.SpamScoreBlock / 4
	out.SpamScoreFlag -= out.SpamScoreFlag / 4
	out.HashCountBlock -= out.HashCountBlock / 4
	out.IPRateLimit -= out.IPRateLimit / 4
	out.IPSpamScoreThreshold -= out.IPSpamScoreThreshold / 4
	out.FingerprintRateLimit -= out.FingerprintRateLimit / 4
	return out
}

// KeywordPolicy is the merged keyword configuration for a request.
type KeywordPolicy struct {
	InheritGlobal    bool
	AdditionalBlock  map[string]struct{}
	ExcludedBlock    map[string]struct{}
	AdditionalFlag   map[string]int // keyword -> score suffix from "kw:N"
	ExcludedFlag     map[string]struct{}
}

// Merge unions o onto p per §4.F.3: excluded/additional sets union, and
// InheritGlobal is the logical AND of both settings.
func (p KeywordPolicy) Merge(o KeywordPolicy) KeywordPolicy {
	out := KeywordPolicy{
		InheritGlobal:   p.InheritGlobal && o.InheritGlobal,
		AdditionalBlock: unionSet(p.AdditionalBlock, o.AdditionalBlock),
		ExcludedBlock:   unionSet(p.ExcludedBlock, o.ExcludedBlock),
		ExcludedFlag:    unionSet(p.ExcludedFlag, o.ExcludedFlag),
		AdditionalFlag:  unionScored(p.AdditionalFlag, o.AdditionalFlag),
	}
	return out
}

func unionSet(a, b map[string]struct{}) map[string]struct{} {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func unionScored(a, b map[string]int) map[string]int {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// PatternPolicy controls which builtin regex detections are disabled and
// which custom patterns are added, per §4.F.4.
type PatternPolicy struct {
	InheritGlobal bool
	Disabled      map[string]struct{}
	Custom        []string
}

func (p PatternPolicy) Merge(o PatternPolicy) PatternPolicy {
	return PatternPolicy{
		InheritGlobal: p.InheritGlobal && o.InheritGlobal,
		Disabled:      unionSet(p.Disabled, o.Disabled),
		Custom:        append(append([]string{}, p.Custom...), o.Custom...),
	}
}

// HashConfig controls whether a content hash is computed and over which
// fields, per §3 Endpoint's field spec.
type HashConfig struct {
	Enabled bool
	Fields  []string
}

// FieldSpec is the merged field-handling policy for a request.
type FieldSpec struct {
	Required       []string
	Ignored        map[string]struct{}
	Expected       []string
	UnexpectedMode string // "filter" | "flag" | "ignore"
	Honeypot       map[string]string // field -> action ("block"|"flag"|"score")
	HoneypotScore  int
	MaxLength      map[string]int
	Hash           HashConfig
}

// DefaultIgnoredFields mirrors §4.F.5's builtin ignore list.
func DefaultIgnoredFields() map[string]struct{} {
	return map[string]struct{}{
		"_csrf":                 {},
		"_token":                {},
		"captcha":               {},
		"g-recaptcha-response":  {},
		"h-captcha-response":    {},
	}
}

// Routing is the final resolved upstream target for a request.
type Routing struct {
	HTTPUpstream    string
	HTTPSUpstream   string
	UseTLS          bool
	Timeout         time.Duration
	DirectUpstreams []string
	// rrCounter is not set or read anywhere: direct-upstream round-robin
	// counters are kept per vhost in resolve.Resolver.
	rrCounter *uint64
}

// Security carries endpoint security toggles from §3.
type Security struct {
	DisposableEmailCheck bool
	AnomalyCheck         bool
	HoneypotAction       string
	HoneypotScore        int
}

// Timing carries the tarpit/delay configuration an endpoint may set.
type Timing struct {
	TarpitDelay time.Duration
	TarpitThen  string // "block" | "allow"
}

// Behavioral is a free-form bag for endpoint behavioral toggles not yet
// promoted to first-class fields (e.g. future anomaly-model knobs).
type Behavioral map[string]string

// RateLimit is the resolved per-endpoint rate limit policy.
type RateLimit struct {
	Enabled     bool
	PerMinute   int64
	KeyStrategy string // "ip" | "fingerprint" | "ip+endpoint"
}

// CaptchaConfig is the resolved CAPTCHA policy for an endpoint.
type CaptchaConfig struct {
	Provider      string
	SiteKey       string
	SecretKey     string
	TrustDuration time.Duration
	FallbackOK    string // fallback_action on provider failure: allow|block|monitor
}

// FingerprintConfig references a named fingerprint profile plus its rate
// limit threshold.
type FingerprintConfig struct {
	ProfileID string
	RateLimit int64
}

// SkipReason explains why a request bypasses the executor entirely.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipVhostDisabled  SkipReason = "vhost_disabled"
	SkipWAFDisabled    SkipReason = "waf_disabled"
	SkipPassthrough    SkipReason = "passthrough"
	SkipAllowlistedIP  SkipReason = "ip_allowlisted"
)

// EffectiveContext is the resolver's immutable, request-scoped output (§3).
type EffectiveContext struct {
	VhostID           string
	VhostMatchKind    MatchKind
	EndpointID        string
	EndpointMatchKind MatchKind
	EndpointScope     Scope

	Mode       Mode
	Thresholds Thresholds
	Keywords   KeywordPolicy
	Patterns   PatternPolicy
	Routing    Routing
	Security   Security
	Timing     Timing
	Behavioral Behavioral
	RateLimit  RateLimit
	Fields     FieldSpec

	FingerprintProfile FingerprintConfig
	Captcha            CaptchaConfig
	ProfileID          string

	SkipWAF    bool
	SkipReason SkipReason

	ClientIP  string
	AllowedIP bool
}

// ShouldBlock reports whether this mode permits the WAF to actually emit a
// blocking verdict, per §4.F.1 ("passthrough and monitoring both imply 'do
// not actually block'").
func (c EffectiveContext) ShouldBlock() bool {
	return c.Mode != ModeMonitoring && c.Mode != ModePassthrough
}
