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

// Package match holds the vhost and endpoint matchers: pure, non-blocking
// functions that project a request's Host/path/method onto the vhost and
// endpoint ids that own its configuration. Terse, ordered-rule-check style
// mirrors the teacher's plugin/tfd/classifier.go Classify function, adapted
// from channel classification to vhost/endpoint classification.
package match

import (
	"strings"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
)

// Host strips an optional port and lowercases, per §4.D's normalization
// step.
func Host(hostHeader string) string {
	h := hostHeader
	if i := strings.LastIndex(h, ":"); i != -1 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	return strings.ToLower(strings.TrimSpace(h))
}

// Vhost resolves a normalized Host header to a vhost id and the kind of
// match that produced it, per §4.D:
//  1. exact lookup
//  2. wildcard scan, pre-sorted longest-pattern-first then priority
//  3. catch-all ("_" or "*")
//  4. "_default"
func Vhost(idx cache.VhostIndex, hostHeader string) (vhostID string, kind config.MatchKind) {
	if hostHeader == "" {
		return idx.DefaultID, config.MatchNoHost
	}
	h := Host(hostHeader)

	if id, ok := idx.Exact[h]; ok {
		return id, config.MatchExact
	}
	for _, wp := range idx.Wildcard {
		if wildcardMatches(wp.Pattern, h) {
			return idx.WildcardOwner[wp.Pattern], config.MatchWildcard
		}
	}
	if idx.CatchAll != "" {
		return idx.CatchAll, config.MatchCatchAll
	}
	return idx.DefaultID, config.MatchDefault
}

// wildcardMatches implements §4.D's "*" semantics: a "*" segment matches
// one-or-more characters, including dots, so "www.*.example.com" matches
// "www.foo.example.com" and "www.a.b.example.com", and a leading "*" like
// "*.example.com" matches any deeper subdomain.
func wildcardMatches(pattern, host string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return pattern == host
	}
	prefix, suffix := parts[0], parts[1]
	if len(host) < len(prefix)+len(suffix) {
		return false
	}
	if !strings.HasPrefix(host, prefix) {
		return false
	}
	if !strings.HasSuffix(host, suffix) {
		return false
	}
	// The wildcard must consume at least one character (one-or-more).
	return len(host)-len(prefix)-len(suffix) >= 1
}
