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
	"testing"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
)

func idx() cache.VhostIndex {
	return cache.VhostIndex{
		Exact:         map[string]string{"shop.example.com": "shop"},
		Wildcard:      []cache.HostPattern{{Pattern: "www.*.example.com"}, {Pattern: "*.example.com"}},
		WildcardOwner: map[string]string{"www.*.example.com": "www-wild", "*.example.com": "wild"},
		DefaultID:     "_default",
	}
}

func TestVhostExact(t *testing.T) {
	id, kind := Vhost(idx(), "shop.example.com:443")
	if id != "shop" || kind != config.MatchExact {
		t.Fatalf("got %s/%s", id, kind)
	}
}

func TestVhostWildcard(t *testing.T) {
	id, kind := Vhost(idx(), "foo.example.com")
	if id != "wild" || kind != config.MatchWildcard {
		t.Fatalf("got %s/%s", id, kind)
	}
}

func TestVhostWildcardDeepSubdomain(t *testing.T) {
	id, kind := Vhost(idx(), "a.b.example.com")
	if id != "wild" || kind != config.MatchWildcard {
		t.Fatalf("got %s/%s", id, kind)
	}
}

func TestVhostDefault(t *testing.T) {
	i := idx()
	i.Wildcard = nil
	id, kind := Vhost(i, "nomatch.other.com")
	if id != "_default" || kind != config.MatchDefault {
		t.Fatalf("got %s/%s", id, kind)
	}
}

func TestVhostCatchAll(t *testing.T) {
	i := idx()
	i.CatchAll = "catchall-vhost"
	id, kind := Vhost(i, "nomatch.other.com")
	if id != "catchall-vhost" || kind != config.MatchCatchAll {
		t.Fatalf("got %s/%s", id, kind)
	}
}

func TestEndpointExactBeatsPrefix(t *testing.T) {
	tables := map[string]cache.EndpointTable{
		"shop": {
			Exact:  map[string]string{"/contact": "ep-exact"},
			Prefix: []cache.PathRule{{EndpointID: "ep-prefix", Pattern: "/", Method: "*"}},
		},
	}
	r, ok := Endpoint(tables, cache.NewRegexLRU(10), "shop", "/contact", "POST")
	if !ok || r.EndpointID != "ep-exact" || r.Kind != config.MatchExact || r.Scope != config.ScopeVhost {
		t.Fatalf("got %+v", r)
	}
}

func TestEndpointLongestPrefixWins(t *testing.T) {
	tables := map[string]cache.EndpointTable{
		"shop": {
			Exact: map[string]string{},
			Prefix: []cache.PathRule{
				{EndpointID: "short", Pattern: "/api", Method: "*"},
				{EndpointID: "long", Pattern: "/api/v1", Method: "*"},
			},
		},
	}
	// convert.go sorts by length; here we pre-sort manually since we bypass Convert.
	tables["shop"] = cache.EndpointTable{
		Exact: map[string]string{},
		Prefix: []cache.PathRule{
			{EndpointID: "long", Pattern: "/api/v1", Method: "*"},
			{EndpointID: "short", Pattern: "/api", Method: "*"},
		},
	}
	r, ok := Endpoint(tables, cache.NewRegexLRU(10), "shop", "/api/v1/widgets", "POST")
	if !ok || r.EndpointID != "long" {
		t.Fatalf("got %+v", r)
	}
}

func TestEndpointFallsBackToGlobal(t *testing.T) {
	tables := map[string]cache.EndpointTable{
		"": {Exact: map[string]string{"/contact": "global-ep"}},
	}
	r, ok := Endpoint(tables, cache.NewRegexLRU(10), "shop", "/contact", "POST")
	if !ok || r.EndpointID != "global-ep" || r.Scope != config.ScopeGlobal {
		t.Fatalf("got %+v", r)
	}
}

func TestEndpointRegex(t *testing.T) {
	tables := map[string]cache.EndpointTable{
		"shop": {
			Exact: map[string]string{},
			Regex: []cache.PathRule{{EndpointID: "re-ep", Pattern: `^/items/\d+$`, Method: "*", Priority: 1}},
		},
	}
	r, ok := Endpoint(tables, cache.NewRegexLRU(10), "shop", "/items/42", "GET")
	if !ok || r.EndpointID != "re-ep" || r.Kind != config.MatchRegex {
		t.Fatalf("got %+v", r)
	}
}

func TestEndpointNoMatch(t *testing.T) {
	tables := map[string]cache.EndpointTable{"shop": {Exact: map[string]string{}}}
	_, ok := Endpoint(tables, cache.NewRegexLRU(10), "shop", "/nope", "GET")
	if ok {
		t.Fatal("expected no match")
	}
}
