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

package cache

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"formwaf/internal/waf/config"
	"formwaf/internal/waf/store"
)

// Convert turns a raw store.Snapshot into a typed cache.Snapshot, assigning
// it version. This is Component B's side of the A/B boundary: the store
// client only ever hands back raw records; converting "true"/"false" and
// numeric literals, partitioning the allowlist, and pre-sorting match
// tables all happen here exactly once, at swap time, not on every request.
func Convert(raw store.Snapshot, version int64) *Snapshot {
	snap := &Snapshot{
		Version:             version,
		Vhosts:              make(map[string]Vhost, len(raw.Vhosts)),
		Endpoints:           make(map[string]Endpoint, len(raw.Endpoints)),
		EndpointTables:      make(map[string]EndpointTable),
		Profiles:            make(map[string]Profile, len(raw.Profiles)),
		CaptchaProviders:    make(map[string]CaptchaProvider, len(raw.Captcha)),
		FingerprintProfiles: make(map[string]FingerprintProfile, len(raw.Fingerprint)),
		RawBlockedHashes:    map[string]struct{}{},
		PulledAtUTC:         raw.PulledAtUTC,
	}

	for _, th := range raw.Thresholds {
		parsed := parseThresholds(th.Fields)
		switch {
		case th.Scope == "" || th.Scope == "global":
			snap.GlobalThresholds = parsed
		}
	}
	for _, kw := range raw.Keywords {
		if kw.Scope == "global" {
			snap.GlobalKeywords = keywordPolicyFromRaw(kw, true)
		}
	}
	for _, pt := range raw.Patterns {
		if pt.Scope == "global" {
			snap.GlobalPatterns = config.PatternPolicy{
				InheritGlobal: true,
				Disabled:      toSet(pt.Disabled),
				Custom:        pt.Custom,
			}
		}
	}

	snap.Allowlist = partitionAllowlist(raw.Allowlist)

	snap.Vhosts, snap.VhostIndex = buildVhosts(raw.Vhosts)

	snap.Endpoints, snap.EndpointTables = buildEndpoints(raw.Endpoints)

	for _, p := range raw.Profiles {
		snap.Profiles[p.ID] = Profile{ID: p.ID, Extends: p.Extends, JSON: p.JSON, Version: p.Version}
	}
	for _, c := range raw.Captcha {
		snap.CaptchaProviders[c.Name] = CaptchaProvider{Name: c.Name, SiteKey: c.SiteKey, SecretKey: c.SecretKey, VerifyURL: c.VerifyURL}
	}
	for _, f := range raw.Fingerprint {
		snap.FingerprintProfiles[f.ID] = FingerprintProfile{ID: f.ID, RateLimit: f.RateLimit, Fields: f.Fields}
	}

	return snap
}

func parseThresholds(fields map[string]string) config.Thresholds {
	t := config.Thresholds{}
	extra := map[string]string{}
	for k, v := range fields {
		switch k {
		case "spam_score_block":
			t.SpamScoreBlock = parseInt(v)
		case "spam_score_flag":
			t.SpamScoreFlag = parseInt(v)
		case "hash_count_block":
			t.HashCountBlock = parseInt(v)
		case "ip_rate_limit":
			t.IPRateLimit = parseInt(v)
		case "ip_spam_score_threshold":
			t.IPSpamScoreThreshold = parseInt(v)
		case "fingerprint_rate_limit":
			t.FingerprintRateLimit = parseInt(v)
		case "expose_waf_headers":
			t.ExposeWAFHeaders = parseBool(v)
		case "max_execution_time_ms":
			t.MaxExecutionTimeMS = parseInt(v)
		case "execution_iteration_cap":
			t.ExecutionIterationCap = parseInt(v)
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		t.Extra = extra
	}
	return t
}

// parseBool and parseInt implement §4.A's documented coercion: literal
// "true"/"false" parse as bool; otherwise attempt numeric parse; otherwise
// the value is simply not one of the named fields and lands in Extra.
func parseBool(v string) bool { return v == "true" }

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func keywordPolicyFromRaw(kw store.RawKeywordSet, inherit bool) config.KeywordPolicy {
	return config.KeywordPolicy{
		InheritGlobal:   inherit,
		AdditionalBlock: toSet(kw.Block),
		AdditionalFlag:  kw.Flag,
	}
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		out[s] = struct{}{}
	}
	return out
}

// partitionAllowlist splits raw allowlist entries into exact IPs and CIDR
// nets per §4.A.
func partitionAllowlist(entries []string) Allowlist {
	a := Allowlist{Exact: map[string]struct{}{}}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if _, n, err := net.ParseCIDR(e); err == nil {
				a.CIDRs = append(a.CIDRs, n)
			}
			continue
		}
		a.Exact[e] = struct{}{}
	}
	return a
}

// buildVhosts converts raw vhost records into the typed map plus the
// pre-sorted hostname index per §4.D: wildcards sorted by decreasing
// pattern length, then increasing priority.
func buildVhosts(raws []store.RawVhost) (map[string]Vhost, VhostIndex) {
	vhosts := make(map[string]Vhost, len(raws))
	idx := VhostIndex{
		Exact:         map[string]string{},
		WildcardOwner: map[string]string{},
		DefaultID:     "_default",
	}

	for _, rv := range raws {
		v := Vhost{
			ID:         rv.ID,
			Priority:   rv.Priority,
			Enabled:    rv.Fields["enabled"] != "false",
			WAFEnabled: rv.Fields["waf_enabled"] != "false",
			Mode:       config.Mode(rv.Fields["mode"]),
		}
		for _, pat := range rv.Patterns {
			isWild := strings.Contains(pat, "*")
			isCatch := pat == "_" || pat == "*"
			hp := HostPattern{Pattern: pat, IsWildcard: isWild, IsCatchAll: isCatch}
			v.HostPatterns = append(v.HostPatterns, hp)
			switch {
			case isCatch:
				if idx.CatchAll == "" {
					idx.CatchAll = rv.ID
				}
			case isWild:
				idx.Wildcard = append(idx.Wildcard, hp)
				idx.WildcardOwner[pat] = rv.ID
			default:
				idx.Exact[strings.ToLower(pat)] = rv.ID
			}
		}
		if rv.Fields["routing_http_upstream"] != "" || rv.Fields["routing_https_upstream"] != "" {
			timeout, _ := time.ParseDuration(rv.Fields["routing_timeout"])
			v.Routing = config.Routing{
				HTTPUpstream:  rv.Fields["routing_http_upstream"],
				HTTPSUpstream: rv.Fields["routing_https_upstream"],
				UseTLS:        parseBool(rv.Fields["routing_use_tls"]),
				Timeout:       timeout,
			}
			if du := rv.Fields["direct_upstreams"]; du != "" {
				v.DirectUpstreams = splitCSV(du)
			}
		}
		vhosts[rv.ID] = v
	}

	sort.Slice(idx.Wildcard, func(i, j int) bool {
		li, lj := len(idx.Wildcard[i].Pattern), len(idx.Wildcard[j].Pattern)
		if li != lj {
			return li > lj
		}
		pi := vhosts[idx.WildcardOwner[idx.Wildcard[i].Pattern]].Priority
		pj := vhosts[idx.WildcardOwner[idx.Wildcard[j].Pattern]].Priority
		return pi < pj
	})

	return vhosts, idx
}

// buildEndpoints converts raw endpoint records into the typed map plus the
// per-scope match tables per §4.E: exact lookup, then prefix (longest
// first, then priority), then priority-ordered regex.
func buildEndpoints(raws []store.RawEndpoint) (map[string]Endpoint, map[string]EndpointTable) {
	endpoints := make(map[string]Endpoint, len(raws))
	tables := make(map[string]EndpointTable)

	for _, re := range raws {
		e := Endpoint{
			ID:      re.ID,
			VhostID: re.VhostID,
			Methods: re.Methods,
			Mode:    config.Mode(re.Fields["mode"]),
		}
		if re.VhostID == "" {
			e.Scope = config.ScopeGlobal
		} else {
			e.Scope = config.ScopeVhost
		}
		e.ProfileID = re.Fields["profile_id"]
		endpoints[re.ID] = e

		scope := re.VhostID // "" means global table
		t := tables[scope]
		if t.Exact == nil {
			t.Exact = map[string]string{}
		}

		method := "*"
		if len(re.Methods) == 1 {
			method = re.Methods[0]
		}

		switch {
		case re.IsRegex:
			priority := re.Priority
			t.Regex = append(t.Regex, PathRule{EndpointID: re.ID, Pattern: re.PathRule, Method: method, Priority: priority})
		case strings.Contains(re.Fields["match_kind"], "prefix"):
			t.Prefix = append(t.Prefix, PathRule{EndpointID: re.ID, Pattern: re.PathRule, Method: method, Priority: re.Priority})
		default:
			key := re.PathRule
			if method != "*" {
				key = re.PathRule + "|" + method
			}
			t.Exact[key] = re.ID
		}
		tables[scope] = t
	}

	for scope, t := range tables {
		sort.Slice(t.Prefix, func(i, j int) bool {
			li, lj := len(t.Prefix[i].Pattern), len(t.Prefix[j].Pattern)
			if li != lj {
				return li > lj
			}
			return t.Prefix[i].Priority < t.Prefix[j].Priority
		})
		sort.Slice(t.Regex, func(i, j int) bool {
			return t.Regex[i].Priority < t.Regex[j].Priority
		})
		tables[scope] = t
	}

	return endpoints, tables
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
