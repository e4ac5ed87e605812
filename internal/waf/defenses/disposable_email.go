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

// DisposableEmail flags (does not block by itself) any form field that
// looks like an email address whose domain is a known disposable-email
// provider, per §3's endpoint security toggle "disposable_email_check".
// It is a no-op score(0) when the security toggle is off.
func (h *Handlers) DisposableEmail(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	if !rc.Effective.Security.DisposableEmailCheck {
		return executor.ScoreResult(0, nil, nil)
	}

	scoreCfg := 20
	if raw, ok := cfg["score"]; ok {
		var s int
		if err := json.Unmarshal(raw, &s); err == nil {
			scoreCfg = s
		}
	}

	for field, values := range rc.Form {
		for _, v := range values {
			at := strings.LastIndex(v, "@")
			if at < 0 || at == len(v)-1 {
				continue
			}
			domain := strings.ToLower(strings.TrimSpace(v[at+1:]))
			if _, bad := h.disposableDoms[domain]; bad {
				return executor.ScoreResult(scoreCfg, []string{"disposable_email:" + domain},
					map[string]interface{}{"field": field, "domain": domain})
			}
		}
	}
	return executor.ScoreResult(0, nil, nil)
}

// defaultDisposableDomains is a small seed list; production deployments
// extend it via the config store (not modeled here — spec.md scopes the
// store schema to keyword/hash/threshold/routing/allowlist/vhost/endpoint/
// captcha/fingerprint records only).
func defaultDisposableDomains() map[string]struct{} {
	domains := []string{
		"mailinator.com", "10minutemail.com", "guerrillamail.com",
		"yopmail.com", "tempmail.com", "trashmail.com", "throwawaymail.com",
	}
	out := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		out[d] = struct{}{}
	}
	return out
}
