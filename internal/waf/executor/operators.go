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

package executor

import "encoding/json"

// runOperator aggregates the already-computed results of an operator's
// inputs per §4.G.2. It never re-adds an input's score to exec.score itself
// (that happened once, when the input node executed as a defense) — it only
// folds the cached results into the operator's own NodeResult, which the
// caller then routes on (continue/branch) like any other node.
func runOperator(kind OperatorKind, cfg map[string]json.RawMessage, inputs []NodeResult) NodeResult {
	switch kind {
	case OpSum:
		total := 0
		for _, in := range inputs {
			total += in.Score
		}
		return NodeResult{Score: total, Flags: unionFlags(inputs), Details: mergeInputDetails(inputs)}

	case OpMax:
		max := 0
		for i, in := range inputs {
			if i == 0 || in.Score > max {
				max = in.Score
			}
		}
		return NodeResult{Score: max, Flags: unionFlags(inputs), Details: mergeInputDetails(inputs)}

	case OpMin:
		min := 0
		for i, in := range inputs {
			if i == 0 || in.Score < min {
				min = in.Score
			}
		}
		return NodeResult{Score: min, Flags: unionFlags(inputs), Details: mergeInputDetails(inputs)}

	case OpAnd:
		ok := len(inputs) > 0
		for _, in := range inputs {
			if !in.Truthy() {
				ok = false
			}
		}
		return NodeResult{Result: &ok}

	case OpOr:
		ok := false
		for _, in := range inputs {
			if in.Truthy() {
				ok = true
			}
		}
		return NodeResult{Result: &ok}

	case OpThresholdBranch:
		total := 0
		for _, in := range inputs {
			total += in.Score
		}
		ranges := parseThresholdRanges(cfg)
		branch := ""
		for _, rg := range ranges {
			if int64(total) < rg.Min {
				continue
			}
			if rg.Max != nil && int64(total) >= *rg.Max {
				continue
			}
			branch = rg.Output
			break
		}
		if branch == "" {
			branch = "continue"
			var def string
			if raw, ok := cfg["default_output"]; ok && json.Unmarshal(raw, &def) == nil && def != "" {
				branch = def
			}
		}
		return NodeResult{Score: total, Branch: branch}

	default:
		return NodeResult{}
	}
}

// unionFlags unions the inputs' flags per §4.G.2 ("union of flags and
// details"). Flags are append-only opaque tokens (§9) — duplicates across
// inputs are collapsed, but no structural parsing is applied.
func unionFlags(inputs []NodeResult) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, in := range inputs {
		for _, f := range in.Flags {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// mergeInputDetails unions the inputs' details maps; later inputs win on key
// collision.
func mergeInputDetails(inputs []NodeResult) map[string]interface{} {
	var out map[string]interface{}
	for _, in := range inputs {
		for k, v := range in.Details {
			if out == nil {
				out = make(map[string]interface{})
			}
			out[k] = v
		}
	}
	return out
}

func parseThresholdRanges(cfg map[string]json.RawMessage) []ThresholdRange {
	raw, ok := cfg["ranges"]
	if !ok {
		return nil
	}
	var ranges []ThresholdRange
	if err := json.Unmarshal(raw, &ranges); err != nil {
		return nil
	}
	return ranges
}
