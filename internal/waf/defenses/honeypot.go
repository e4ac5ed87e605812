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

// Honeypot inspects the endpoint's configured honeypot fields (invisible to
// real users, only a bot fills them in). A non-empty value triggers the
// field's configured action: block, flag (scored), or score-only (§1
// scenario 1: honeypot field "website" with action "block").
func (h *Handlers) Honeypot(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	for field, action := range rc.Effective.Fields.Honeypot {
		values, ok := rc.Form[field]
		if !ok {
			continue
		}
		tripped := false
		for _, v := range values {
			if v != "" {
				tripped = true
				break
			}
		}
		if !tripped {
			continue
		}

		details := map[string]interface{}{"field": field}
		switch action {
		case "block":
			return executor.BlockedResult("honeypot_triggered", []string{"honeypot:" + field}, details)
		case "flag", "score":
			score := rc.Effective.Fields.HoneypotScore
			if score == 0 {
				score = rc.Effective.Security.HoneypotScore
			}
			return executor.ScoreResult(score, []string{"honeypot:" + field}, details)
		default:
			return executor.ScoreResult(rc.Effective.Security.HoneypotScore, []string{"honeypot:" + field}, details)
		}
	}
	return executor.ScoreResult(0, nil, nil)
}
