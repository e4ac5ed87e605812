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
	"regexp"

	"formwaf/internal/waf/executor"
)

// PatternScan is an observation: it runs the resolved pattern policy's
// custom regex patterns (§4.F.4, builtin-pattern disable flags handled
// upstream by the resolver) over every form field and reports matches as
// flags without itself contributing score — a downstream operator decides
// what a pattern hit is worth.
//
// Patterns are compiled on the fly rather than through the hot cache's
// RegexLRU: profile-level custom patterns are per-field-content regexes
// evaluated far less often than path-matching regexes, so the extra
// compile cost is not worth sharing across requests here.
func (h *Handlers) PatternScan(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	var flags []string
	details := map[string]interface{}{}
	for _, pattern := range rc.Effective.Patterns.Custom {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		for field, values := range rc.Form {
			for _, v := range values {
				if re.MatchString(v) {
					flags = append(flags, "pattern:"+pattern)
					details[pattern] = field
				}
			}
		}
	}
	return executor.NodeResult{Flags: flags, Details: details}
}
