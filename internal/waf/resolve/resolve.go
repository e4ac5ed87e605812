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

// Package resolve is the Request Context Resolver (§4.F): it composes the
// immutable, per-request EffectiveContext out of a hot-cache snapshot plus
// the incoming request's Host/path/method/IP, applying mode semantics,
// threshold/keyword/pattern merge, field defaults, and routing resolution
// (including direct-upstream round robin).
package resolve

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/match"
)

// Request is the minimal request shape the resolver needs; the HTTP layer
// (internal/waf/api) extracts these from the live *http.Request.
type Request struct {
	Host           string
	Path           string
	Method         string
	PeerIP         string
	ForwardedForIP string // first hop of X-Forwarded-For, if present
}

// ClientIP returns the normalized client IP per §6: X-Forwarded-For's first
// IP takes precedence over the peer IP.
func (r Request) ClientIP() string {
	if r.ForwardedForIP != "" {
		return strings.TrimSpace(r.ForwardedForIP)
	}
	return r.PeerIP
}

// Resolver holds the per-worker state a pure resolve function still needs:
// the direct-upstream round-robin counters. Everything else is read from
// the snapshot passed to Resolve, so Resolve itself is referentially
// transparent for a fixed snapshot and fixed round-robin state (§8 P1).
type Resolver struct {
	mu         sync.Mutex
	rrCounters map[string]*uint64
	regexLRU   *cache.RegexLRU
}

// New returns a resolver with empty round-robin state, compiling endpoint
// regex patterns through the given shared LRU (the same one the hot cache
// exposes, so the matcher's compiled patterns are shared across requests).
func New(regexLRU *cache.RegexLRU) *Resolver {
	if regexLRU == nil {
		regexLRU = cache.NewRegexLRU(100)
	}
	return &Resolver{rrCounters: map[string]*uint64{}, regexLRU: regexLRU}
}

// Resolve produces the EffectiveContext for one request, per §4.F.
func (r *Resolver) Resolve(snap *cache.Snapshot, req Request) config.EffectiveContext {
	ctx := config.EffectiveContext{ClientIP: req.ClientIP()}

	if snap == nil {
		ctx.VhostID = "_default"
		ctx.VhostMatchKind = config.MatchDefault
		ctx.Mode = config.ModeBlocking
		return ctx
	}

	if ip := net.ParseIP(ctx.ClientIP); ip != nil && snap.Allowlist.Contains(ip) {
		ctx.AllowedIP = true
	}

	vhostID, vhostKind := match.Vhost(snap.VhostIndex, req.Host)
	ctx.VhostID = vhostID
	ctx.VhostMatchKind = vhostKind
	vhost := snap.Vhosts[vhostID]

	if !vhost.Enabled {
		ctx.SkipWAF = true
		ctx.SkipReason = config.SkipVhostDisabled
	} else if !vhost.WAFEnabled {
		ctx.SkipWAF = true
		ctx.SkipReason = config.SkipWAFDisabled
	}

	epResult, found := match.Endpoint(snap.EndpointTables, r.regexLRU, vhostID, req.Path, req.Method)
	var endpoint cache.Endpoint
	if found {
		ctx.EndpointID = epResult.EndpointID
		ctx.EndpointMatchKind = epResult.Kind
		ctx.EndpointScope = epResult.Scope
		endpoint = snap.Endpoints[epResult.EndpointID]
	} else {
		ctx.EndpointMatchKind = config.MatchNone
	}

	// 1. Mode resolution (§4.F.1).
	mode := config.ModeBlocking
	if vhost.Mode != "" {
		mode = vhost.Mode
	}
	if endpoint.Mode != "" {
		mode = endpoint.Mode
	}
	ctx.Mode = mode
	if mode == config.ModePassthrough && ctx.SkipReason == config.SkipNone {
		ctx.SkipWAF = true
		ctx.SkipReason = config.SkipPassthrough
	}

	// 2. Threshold merge: global -> vhost -> endpoint.
	th := snap.GlobalThresholds.Merge(vhost.Thresholds).Merge(endpoint.Thresholds)
	if mode == config.ModeStrict {
		th = th.Strict()
	}
	ctx.Thresholds = th

	// 3. Keyword policy merge.
	ctx.Keywords = snap.GlobalKeywords.Merge(vhost.Keywords).Merge(endpoint.Keywords)

	// 4. Pattern policy merge.
	ctx.Patterns = snap.GlobalPatterns.Merge(vhost.Patterns).Merge(endpoint.Patterns)

	// 5. Field spec.
	ignored := config.DefaultIgnoredFields()
	for k := range endpoint.Fields.Ignored {
		ignored[k] = struct{}{}
	}
	fields := endpoint.Fields
	fields.Ignored = ignored
	ctx.Fields = fields

	// 6. Routing.
	ctx.Routing = r.resolveRouting(vhostID, vhost, snap.Routing)

	ctx.Security = endpoint.Security
	ctx.Timing = endpoint.Timing
	ctx.RateLimit = endpoint.RateLimit
	ctx.Captcha = endpoint.Captcha
	ctx.FingerprintProfile = endpoint.Fingerprint
	ctx.ProfileID = endpoint.ProfileID
	if ctx.ProfileID == "" {
		ctx.ProfileID = "default"
	}

	return ctx
}

// resolveRouting overlays the vhost's routing overrides on the snapshot's
// global Routing, and performs direct-upstream round robin when the vhost
// configures one, per §4.F.6. No environment-variable default is applied,
// and cache.Convert does not fill the snapshot's global Routing, so a vhost
// with neither its own upstream nor direct upstreams gets an empty upstream.
func (r *Resolver) resolveRouting(vhostID string, vhost cache.Vhost, global config.Routing) config.Routing {
	out := global
	if vhost.Routing.HTTPUpstream != "" {
		out.HTTPUpstream = vhost.Routing.HTTPUpstream
	}
	if vhost.Routing.HTTPSUpstream != "" {
		out.HTTPSUpstream = vhost.Routing.HTTPSUpstream
	}
	if vhost.Routing.Timeout != 0 {
		out.Timeout = vhost.Routing.Timeout
	}
	out.UseTLS = out.UseTLS || vhost.Routing.UseTLS

	if len(vhost.DirectUpstreams) > 0 {
		out.DirectUpstreams = vhost.DirectUpstreams
		idx := r.nextRoundRobin(vhostID, len(vhost.DirectUpstreams))
		target := vhost.DirectUpstreams[idx]
		if out.UseTLS {
			out.HTTPSUpstream = target
		} else {
			out.HTTPUpstream = target
		}
	}
	return out
}

func (r *Resolver) nextRoundRobin(vhostID string, n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	counter, ok := r.rrCounters[vhostID]
	if !ok {
		var c uint64
		counter = &c
		r.rrCounters[vhostID] = counter
	}
	r.mu.Unlock()
	v := atomic.AddUint64(counter, 1)
	return int(v % uint64(n))
}
