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

package resolve

import (
	"net"
	"testing"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
)

func baseSnapshot() *cache.Snapshot {
	return &cache.Snapshot{
		Version:          1,
		GlobalThresholds: config.Thresholds{SpamScoreBlock: 100, SpamScoreFlag: 50},
		GlobalKeywords:   config.KeywordPolicy{InheritGlobal: true},
		VhostIndex: cache.VhostIndex{
			Exact:     map[string]string{"shop.example.com": "shop"},
			DefaultID: "_default",
		},
		Vhosts: map[string]cache.Vhost{
			"shop": {ID: "shop", Enabled: true, WAFEnabled: true},
			"_default": {ID: "_default", Enabled: true, WAFEnabled: true, Mode: config.ModePassthrough},
		},
		EndpointTables: map[string]cache.EndpointTable{
			"shop": {Exact: map[string]string{"/contact": "contact-ep"}},
		},
		Endpoints: map[string]cache.Endpoint{
			"contact-ep": {ID: "contact-ep", Thresholds: config.Thresholds{SpamScoreBlock: 80}},
		},
	}
}

func TestResolveDeterministic(t *testing.T) {
	snap := baseSnapshot()
	r := New(cache.NewRegexLRU(10))
	req := Request{Host: "shop.example.com", Path: "/contact", Method: "POST", PeerIP: "1.2.3.4"}

	c1 := r.Resolve(snap, req)
	c2 := r.Resolve(snap, req)
	if c1.VhostID != c2.VhostID || c1.EndpointID != c2.EndpointID || c1.Thresholds.SpamScoreBlock != c2.Thresholds.SpamScoreBlock {
		t.Fatalf("resolve is not deterministic for fixed inputs: %+v vs %+v", c1, c2)
	}
	if c1.Thresholds.SpamScoreBlock != 80 {
		t.Fatalf("expected endpoint override to win, got %d", c1.Thresholds.SpamScoreBlock)
	}
}

func TestResolveDefaultPassthroughSkipsWAF(t *testing.T) {
	snap := baseSnapshot()
	r := New(cache.NewRegexLRU(10))
	req := Request{Host: "unknown.example.org", Path: "/anything", Method: "POST", PeerIP: "9.9.9.9"}
	c := r.Resolve(snap, req)
	if c.VhostID != "_default" || !c.SkipWAF || c.SkipReason != config.SkipPassthrough {
		t.Fatalf("expected default vhost passthrough skip, got %+v", c)
	}
}

func TestResolveClientIPPrefersForwardedFor(t *testing.T) {
	req := Request{PeerIP: "10.0.0.1", ForwardedForIP: "203.0.113.9"}
	if req.ClientIP() != "203.0.113.9" {
		t.Fatalf("expected forwarded-for IP, got %s", req.ClientIP())
	}
}

func TestResolveAllowlistedIP(t *testing.T) {
	snap := baseSnapshot()
	_, cidr, _ := net.ParseCIDR("1.2.3.0/24")
	snap.Allowlist = cache.Allowlist{Exact: map[string]struct{}{}, CIDRs: []*net.IPNet{cidr}}
	r := New(cache.NewRegexLRU(10))
	req := Request{Host: "shop.example.com", Path: "/contact", Method: "POST", PeerIP: "1.2.3.4"}
	c := r.Resolve(snap, req)
	if !c.AllowedIP {
		t.Fatal("expected AllowedIP=true")
	}
}

func TestResolveStrictLowersThresholds(t *testing.T) {
	snap := baseSnapshot()
	snap.Vhosts["shop"] = cache.Vhost{ID: "shop", Enabled: true, WAFEnabled: true, Mode: config.ModeStrict}
	r := New(cache.NewRegexLRU(10))
	req := Request{Host: "shop.example.com", Path: "/unmatched", Method: "POST", PeerIP: "1.1.1.1"}
	c := r.Resolve(snap, req)
	if c.Mode != config.ModeStrict {
		t.Fatalf("expected strict mode, got %s", c.Mode)
	}
	if c.Thresholds.SpamScoreBlock >= 100 {
		t.Fatalf("expected strict threshold lowered below global 100, got %d", c.Thresholds.SpamScoreBlock)
	}
}

func TestResolveRoundRobinDirectUpstream(t *testing.T) {
	snap := baseSnapshot()
	snap.Vhosts["shop"] = cache.Vhost{ID: "shop", Enabled: true, WAFEnabled: true, DirectUpstreams: []string{"a:80", "b:80"}}
	r := New(cache.NewRegexLRU(10))
	req := Request{Host: "shop.example.com", Path: "/contact", Method: "POST", PeerIP: "1.1.1.1"}
	c1 := r.Resolve(snap, req)
	c2 := r.Resolve(snap, req)
	if c1.Routing.HTTPUpstream == "" || c2.Routing.HTTPUpstream == "" {
		t.Fatal("expected a direct upstream resolved")
	}
	if c1.Routing.HTTPUpstream == c2.Routing.HTTPUpstream {
		t.Fatal("expected round robin to alternate upstream targets")
	}
}
