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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"formwaf/internal/waf/executor"
)

// ContentHash computes a stable hash over the endpoint's configured hash
// fields (§3's field-spec "hash config {enabled, fields[]}") and reports
// whether it matches a globally blocked-hash entry (duplicate-submission
// detection, §4.F's hash_count_block threshold). It is an observation: the
// hash itself never blocks directly. The digest and match status are
// reported only in this node's own result (details "hash"/"blocked_hash",
// flag "duplicate_hash"), which operators taking this node as an input can
// read; observation results are not merged into the Decision, so the digest
// does not reach the X-Form-Hash header.
func (h *Handlers) ContentHash(ctx context.Context, rc *executor.RequestContext, cfg map[string]json.RawMessage) executor.NodeResult {
	hc := rc.Effective.Fields.Hash
	if !hc.Enabled || len(hc.Fields) == 0 {
		return executor.ScoreResult(0, nil, nil)
	}

	fields := append([]string{}, hc.Fields...)
	sort.Strings(fields)

	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(f)
		sb.WriteByte('=')
		for _, v := range rc.Form[f] {
			sb.WriteString(v)
		}
		sb.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(sb.String()))
	digest := hex.EncodeToString(sum[:])

	blocked := false
	if rc.Snapshot != nil {
		_, blocked = rc.Snapshot.RawBlockedHashes[digest]
	}

	details := map[string]interface{}{"hash": digest, "blocked_hash": blocked}
	if blocked {
		return executor.NodeResult{Flags: []string{"duplicate_hash"}, Details: details}
	}
	return executor.NodeResult{Details: details}
}
