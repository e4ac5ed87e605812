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

	"formwaf/internal/waf/executor"
)

// RateLimit consumes one unit of the request's resolved rate-limit budget
// (per-IP, per-fingerprint, or per-IP+endpoint, per §3's RateLimit.KeyStrategy)
// from an in-memory VSA accumulator. Exceeding the budget blocks; the VSA's
// vector is the in-flight consumption, its scalar the window budget, so no
// Redis round trip happens on the request path (§5's latency budget) —
// internal/waf/sync periodically commits the vector via
// store.RedisFlusher.CommitBatch.
func (h *Handlers) RateLimit(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	rl := rc.Effective.RateLimit
	if !rl.Enabled || rl.PerMinute <= 0 {
		return executor.ScoreResult(0, nil, nil)
	}

	key := rateLimitKey(rc, rl.KeyStrategy)
	bucket := h.bucketFor("rl:"+key, rl.PerMinute)
	if bucket.TryConsume(1) {
		return executor.ScoreResult(0, nil, map[string]interface{}{"key": key})
	}
	return executor.BlockedResult("ip_rate_limit_exceeded", []string{"rate_limit:" + key},
		map[string]interface{}{"key": key, "per_minute": rl.PerMinute})
}

// IPSpamScore consumes a proportional share of the per-IP spam-score
// accumulator, scoring (not necessarily blocking) based on how much of the
// window budget the IP has already spent — the `ip_spam_score_threshold`
// global threshold (§4).
func (h *Handlers) IPSpamScore(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	threshold := rc.Effective.Thresholds.IPSpamScoreThreshold
	if threshold <= 0 {
		return executor.ScoreResult(0, nil, nil)
	}
	bucket := h.bucketFor("ip_spam:"+rc.ClientIP, threshold)
	bucket.Update(1)
	ratio := bucket.Ratio()
	score := int(ratio * float64(maxSpamScoreContribution(cfg)))
	return executor.ScoreResult(score, nil, map[string]interface{}{"ratio": ratio})
}

// FingerprintRateLimit mirrors RateLimit but keys on the resolved
// fingerprint profile instead of the client IP, per §3's FingerprintConfig.
func (h *Handlers) FingerprintRateLimit(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	fp := rc.Effective.FingerprintProfile
	if fp.ProfileID == "" || fp.RateLimit <= 0 {
		return executor.ScoreResult(0, nil, nil)
	}
	bucket := h.bucketFor("fp:"+fp.ProfileID, fp.RateLimit)
	if bucket.TryConsume(1) {
		return executor.ScoreResult(0, nil, nil)
	}
	return executor.BlockedResult("fingerprint_rate_limit_exceeded", []string{"fingerprint:" + fp.ProfileID}, nil)
}

func rateLimitKey(rc *executor.RequestContext, strategy string) string {
	switch strategy {
	case "fingerprint":
		return rc.Effective.FingerprintProfile.ProfileID
	case "ip+endpoint":
		return rc.ClientIP + "|" + rc.Effective.EndpointID
	default:
		return rc.ClientIP
	}
}

func maxSpamScoreContribution(cfg map[string]json.RawMessage) int {
	max := 50
	if raw, ok := cfg["max_score"]; ok {
		var v int
		if err := json.Unmarshal(raw, &v); err == nil && v > 0 {
			max = v
		}
	}
	return max
}
