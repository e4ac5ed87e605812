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
	"net"

	"formwaf/internal/waf/executor"
)

// ipReputationConfig is a node's per-profile CIDR blocklist — distinct from
// the global allowlist the resolver short-circuits on (§1 scenario 3):
// this handler lets a single profile additionally reject known-bad ranges
// (hosting-provider/scanner blocks, etc.) without touching the shared
// allowlist record.
type ipReputationConfig struct {
	BlockedCIDRs []string `json:"blocked_cidrs"`
	Score        int      `json:"score"`
}

// IPReputation blocks (or scores) a client IP matching a profile-local CIDR
// blocklist. Uses net.IPNet, not a trie library — see DESIGN.md's
// Component A entry for why a CIDR-trie dependency was dropped; the same
// reasoning applies here (small, profile-scoped lists).
func (h *Handlers) IPReputation(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	var rcfg ipReputationConfig
	if raw, ok := cfg["blocked_cidrs"]; ok {
		_ = json.Unmarshal(raw, &rcfg.BlockedCIDRs)
	}
	if raw, ok := cfg["score"]; ok {
		_ = json.Unmarshal(raw, &rcfg.Score)
	}

	ip := net.ParseIP(rc.ClientIP)
	if ip == nil {
		return executor.ScoreResult(0, nil, nil)
	}
	for _, cidrStr := range rcfg.BlockedCIDRs {
		_, cidr, err := net.ParseCIDR(cidrStr)
		if err != nil || !cidr.Contains(ip) {
			continue
		}
		details := map[string]interface{}{"cidr": cidrStr}
		if rcfg.Score > 0 {
			return executor.ScoreResult(rcfg.Score, []string{"ip_reputation:" + cidrStr}, details)
		}
		return executor.BlockedResult("ip_reputation_blocked", []string{"ip_reputation:" + cidrStr}, details)
	}
	return executor.ScoreResult(0, nil, nil)
}
