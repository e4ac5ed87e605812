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

package defenses

import (
	"context"
	"encoding/json"
	"testing"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
)

func TestHoneypotTriggersBlock(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{Fields: config.FieldSpec{Honeypot: map[string]string{"website": "block"}}},
		Form:      map[string][]string{"website": {"http://spam.ru"}},
	}
	res := h.Honeypot(context.Background(), rc, nil)
	if !res.Blocked || res.BlockReason != "honeypot_triggered" {
		t.Fatalf("expected honeypot block, got %+v", res)
	}
}

func TestHoneypotEmptyFieldIsNoop(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{Fields: config.FieldSpec{Honeypot: map[string]string{"website": "block"}}},
		Form:      map[string][]string{"website": {""}},
	}
	res := h.Honeypot(context.Background(), rc, nil)
	if res.Blocked {
		t.Fatalf("expected no block for empty honeypot field, got %+v", res)
	}
}

func TestKeywordScanBlocksOnBlockedWord(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{
			Keywords: config.KeywordPolicy{AdditionalBlock: map[string]struct{}{"viagra": {}}},
		},
		Form: map[string][]string{"message": {"buy Viagra now"}},
	}
	res := h.KeywordScan(context.Background(), rc, nil)
	if !res.Blocked {
		t.Fatalf("expected block, got %+v", res)
	}
}

func TestKeywordScanIgnoresIgnoredFields(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{
			Keywords: config.KeywordPolicy{AdditionalBlock: map[string]struct{}{"viagra": {}}},
			Fields:   config.FieldSpec{Ignored: map[string]struct{}{"message": {}}},
		},
		Form: map[string][]string{"message": {"buy Viagra now"}},
	}
	res := h.KeywordScan(context.Background(), rc, nil)
	if res.Blocked {
		t.Fatalf("expected ignored field to be skipped, got %+v", res)
	}
}

func TestDisposableEmailFlagsKnownDomain(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{Security: config.Security{DisposableEmailCheck: true}},
		Form:      map[string][]string{"email": {"bot@mailinator.com"}},
	}
	res := h.DisposableEmail(context.Background(), rc, nil)
	if res.Score == 0 {
		t.Fatalf("expected nonzero score for disposable domain, got %+v", res)
	}
}

func TestDisposableEmailOffWhenToggleDisabled(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Form: map[string][]string{"email": {"bot@mailinator.com"}},
	}
	res := h.DisposableEmail(context.Background(), rc, nil)
	if res.Score != 0 {
		t.Fatalf("expected no score with toggle off, got %+v", res)
	}
}

func TestRateLimitBlocksAfterBudgetExhausted(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{
			ClientIP:  "1.2.3.4",
			RateLimit: config.RateLimit{Enabled: true, PerMinute: 2},
		},
		ClientIP: "1.2.3.4",
	}
	r1 := h.RateLimit(context.Background(), rc, nil)
	r2 := h.RateLimit(context.Background(), rc, nil)
	r3 := h.RateLimit(context.Background(), rc, nil)
	if r1.Blocked || r2.Blocked {
		t.Fatalf("expected first two requests to pass, got %+v %+v", r1, r2)
	}
	if !r3.Blocked {
		t.Fatalf("expected third request to exceed budget, got %+v", r3)
	}
}

func TestContentHashFlagsBlockedDigest(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{
		Effective: config.EffectiveContext{
			Fields: config.FieldSpec{Hash: config.HashConfig{Enabled: true, Fields: []string{"body"}}},
		},
		Form: map[string][]string{"body": {"spam content"}},
	}
	first := h.ContentHash(context.Background(), rc, nil)
	digest, _ := first.Details["hash"].(string)
	if digest == "" {
		t.Fatal("expected a computed hash")
	}

	rc.Snapshot = &cache.Snapshot{RawBlockedHashes: map[string]struct{}{digest: {}}}
	second := h.ContentHash(context.Background(), rc, nil)
	found := false
	for _, f := range second.Flags {
		if f == "duplicate_hash" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate_hash flag once digest is in the blocked set, got %+v", second)
	}
}

func TestIPReputationBlocksConfiguredCIDR(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{ClientIP: "203.0.113.5"}
	cfg := map[string]json.RawMessage{"blocked_cidrs": json.RawMessage(`["203.0.113.0/24"]`)}
	res := h.IPReputation(context.Background(), rc, cfg)
	if !res.Blocked {
		t.Fatalf("expected block for matching CIDR, got %+v", res)
	}
}

func TestIPReputationAllowsNonMatchingCIDR(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{ClientIP: "8.8.8.8"}
	cfg := map[string]json.RawMessage{"blocked_cidrs": json.RawMessage(`["203.0.113.0/24"]`)}
	res := h.IPReputation(context.Background(), rc, cfg)
	if res.Blocked {
		t.Fatalf("expected no block, got %+v", res)
	}
}

func TestGeoIPNilReaderIsNeutral(t *testing.T) {
	h := New(nil)
	rc := &executor.RequestContext{ClientIP: "1.1.1.1"}
	res := h.GeoIP(context.Background(), rc, nil)
	if res.Blocked || res.Score != 0 {
		t.Fatalf("expected neutral result without a GeoIP reader, got %+v", res)
	}
}
