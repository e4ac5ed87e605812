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

package match

import (
	"strings"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
)

// EndpointResult carries the resolved endpoint id, how it was matched, and
// which scope (vhost vs. global) it came from, per §4.E.
type EndpointResult struct {
	EndpointID string
	Kind       config.MatchKind
	Scope      config.Scope
}

// Endpoint resolves (vhostID, path, method) to an endpoint, trying the
// vhost-scoped table first and falling back to the global table. Regex
// patterns are compiled through the shared LRU (regexLRU); invalid
// patterns are skipped (never block the matcher on a bad pattern). The
// matcher performs no I/O.
func Endpoint(tables map[string]cache.EndpointTable, regexLRU *cache.RegexLRU, vhostID, path, method string) (EndpointResult, bool) {
	if t, ok := tables[vhostID]; ok {
		if r, found := matchTable(t, regexLRU, path, method); found {
			r.Scope = config.ScopeVhost
			return r, true
		}
	}
	if t, ok := tables[""]; ok {
		if r, found := matchTable(t, regexLRU, path, method); found {
			r.Scope = config.ScopeGlobal
			return r, true
		}
	}
	return EndpointResult{Kind: config.MatchNone}, false
}

func matchTable(t cache.EndpointTable, regexLRU *cache.RegexLRU, path, method string) (EndpointResult, bool) {
	if id, ok := t.Exact[path+"|"+method]; ok {
		return EndpointResult{EndpointID: id, Kind: config.MatchExact}, true
	}
	if id, ok := t.Exact[path]; ok {
		return EndpointResult{EndpointID: id, Kind: config.MatchExact}, true
	}

	for _, rule := range t.Prefix {
		if !methodMatches(rule.Method, method) {
			continue
		}
		if strings.HasPrefix(path, rule.Pattern) {
			return EndpointResult{EndpointID: rule.EndpointID, Kind: config.MatchPrefix}, true
		}
	}

	for _, rule := range t.Regex {
		if !methodMatches(rule.Method, method) {
			continue
		}
		re, err := regexLRU.Compile(anchorFullMatch(rule.Pattern))
		if err != nil || re == nil {
			continue
		}
		if re.MatchString(path) {
			return EndpointResult{EndpointID: rule.EndpointID, Kind: config.MatchRegex}, true
		}
	}

	return EndpointResult{}, false
}

// anchorFullMatch wraps pattern so regexLRU.Compile produces a regexp that
// only matches when it spans the entire path, per §4.E/§2-E's "first
// full-match wins" (an unanchored MatchString would let e.g. "admin" match
// "/x/admin/y", breaking P2's most-specific-match ordering).
func anchorFullMatch(pattern string) string {
	return `\A(?:` + pattern + `)\z`
}

func methodMatches(ruleMethod, requestMethod string) bool {
	return ruleMethod == "*" || ruleMethod == "" || strings.EqualFold(ruleMethod, requestMethod)
}
