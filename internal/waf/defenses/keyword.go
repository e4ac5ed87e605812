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
	"strings"

	"formwaf/internal/waf/executor"
)

// KeywordScan scans every non-ignored form field against the resolved
// blocked/flagged keyword sets (§4.F.3). A blocked hit is a block verdict;
// flagged hits accumulate their kw:N score and an append-only "kw:<word>"
// flag (§7's "source-level tagging via flags" — never parsed structurally).
func (h *Handlers) KeywordScan(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	kw := rc.Effective.Keywords
	ignored := rc.Effective.Fields.Ignored

	for field, values := range rc.Form {
		if _, skip := ignored[field]; skip {
			continue
		}
		for _, v := range values {
			lower := strings.ToLower(v)
			for word := range kw.AdditionalBlock {
				if _, excluded := kw.ExcludedBlock[word]; excluded {
					continue
				}
				if strings.Contains(lower, strings.ToLower(word)) {
					return executor.BlockedResult("keyword_match:"+word, []string{"kw:" + word},
						map[string]interface{}{"field": field})
				}
			}
		}
	}

	score := 0
	var flags []string
	details := map[string]interface{}{}
	for field, values := range rc.Form {
		if _, skip := ignored[field]; skip {
			continue
		}
		for _, v := range values {
			lower := strings.ToLower(v)
			for word, bonus := range kw.AdditionalFlag {
				if _, excluded := kw.ExcludedFlag[word]; excluded {
					continue
				}
				if strings.Contains(lower, strings.ToLower(word)) {
					score += bonus
					flags = append(flags, "kw:"+word)
					details[word] = field
				}
			}
		}
	}
	return executor.ScoreResult(score, flags, details)
}
