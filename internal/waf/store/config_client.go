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

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Key layout helpers. Kept as plain functions (not constants) so callers
// can see the pattern at the call site, matching the RedisCounterKey /
// RedisCommitMarkerKey style the teacher uses for its own key naming.
func vhostKey(id string) string      { return fmt.Sprintf("waf:vhost:%s", id) }
func endpointKey(id string) string   { return fmt.Sprintf("waf:endpoint:%s", id) }
func profileKey(id string) string    { return fmt.Sprintf("waf:profile:%s", id) }
func thresholdsKey(scope string) string {
	if scope == "" || scope == "global" {
		return "waf:config:thresholds"
	}
	return fmt.Sprintf("waf:config:thresholds:%s", scope)
}
func keywordBlockKey(scope string) string { return fmt.Sprintf("waf:keywords:block:%s", scope) }
func keywordFlagKey(scope string) string  { return fmt.Sprintf("waf:keywords:flag:%s", scope) }
func patternKey(scope string) string      { return fmt.Sprintf("waf:patterns:%s", scope) }

const (
	allowlistKey   = "waf:ip:allowlist"
	vhostIndexKey  = "waf:index:vhosts"
	endpointIdxKey = "waf:index:endpoints"
	captchaIdxKey  = "waf:index:captcha"
	fpIdxKey       = "waf:index:fingerprint"
)

// RedisConfigClient implements ConfigClient against a kvBackend. It pulls
// in the fixed order the Sync Coordinator requires: vhosts and endpoints
// first (so any profile reference resolves against a complete index),
// then profiles, then thresholds/keywords/patterns, then the allowlist and
// CAPTCHA/fingerprint tables.
type RedisConfigClient struct {
	kv      kvBackend
	timeout time.Duration
}

// NewRedisConfigClient wires a config client against the given backend.
// Pass a *GoRedisKV for production, or LoggingKVBackend{} for a
// dependency-free demo wiring.
func NewRedisConfigClient(kv kvBackend) *RedisConfigClient {
	return &RedisConfigClient{kv: kv, timeout: 10 * time.Second}
}

func (c *RedisConfigClient) Pull(ctx context.Context) (Snapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var snap Snapshot

	vhostIDs, err := c.kv.SMembers(ctx, vhostIndexKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("pull vhost index: %w", err)
	}
	for _, id := range vhostIDs {
		v, err := c.pullVhost(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Vhosts = append(snap.Vhosts, v)
	}

	endpointIDs, err := c.kv.SMembers(ctx, endpointIdxKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("pull endpoint index: %w", err)
	}
	for _, id := range endpointIDs {
		e, err := c.pullEndpoint(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Endpoints = append(snap.Endpoints, e)
	}

	profiles, err := c.pullProfiles(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Profiles = profiles

	scopes := scopesFor(snap.Vhosts, snap.Endpoints)
	for _, scope := range scopes {
		th, err := c.pullThresholds(ctx, scope)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Thresholds = append(snap.Thresholds, th)

		kw, err := c.pullKeywords(ctx, scope)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Keywords = append(snap.Keywords, kw)

		pt, err := c.pullPatterns(ctx, scope)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Patterns = append(snap.Patterns, pt)
	}

	allow, err := c.kv.SMembers(ctx, allowlistKey)
	if err != nil {
		return Snapshot{}, fmt.Errorf("pull allowlist: %w", err)
	}
	snap.Allowlist = allow

	captcha, err := c.pullCaptchaProviders(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Captcha = captcha

	fp, err := c.pullFingerprintProfiles(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Fingerprint = fp

	snap.PulledAtUTC = time.Now().Unix()
	return snap, nil
}

func scopesFor(vhosts []RawVhost, endpoints []RawEndpoint) []string {
	scopes := []string{"global"}
	for _, v := range vhosts {
		scopes = append(scopes, "vhost:"+v.ID)
	}
	for _, e := range endpoints {
		scopes = append(scopes, "endpoint:"+e.ID)
	}
	return scopes
}

func (c *RedisConfigClient) pullVhost(ctx context.Context, id string) (RawVhost, error) {
	fields, err := c.kv.HGetAll(ctx, vhostKey(id))
	if err != nil {
		return RawVhost{}, fmt.Errorf("pull vhost %s: %w", id, err)
	}
	priority, _ := strconv.Atoi(fields["priority"])
	return RawVhost{
		ID:       id,
		Patterns: splitCSV(fields["patterns"]),
		Priority: priority,
		Fields:   fields,
	}, nil
}

func (c *RedisConfigClient) pullEndpoint(ctx context.Context, id string) (RawEndpoint, error) {
	fields, err := c.kv.HGetAll(ctx, endpointKey(id))
	if err != nil {
		return RawEndpoint{}, fmt.Errorf("pull endpoint %s: %w", id, err)
	}
	priority, _ := strconv.Atoi(fields["priority"])
	isRegex := fields["is_regex"] == "true" || fields["is_regex"] == "1"
	return RawEndpoint{
		ID:       id,
		VhostID:  fields["vhost_id"],
		PathRule: fields["path_rule"],
		Methods:  splitCSV(fields["methods"]),
		Priority: priority,
		IsRegex:  isRegex,
		Fields:   fields,
	}, nil
}

func (c *RedisConfigClient) pullProfiles(ctx context.Context) ([]RawProfile, error) {
	ids, err := c.kv.SMembers(ctx, "waf:index:profiles")
	if err != nil {
		return nil, fmt.Errorf("pull profile index: %w", err)
	}
	profiles := make([]RawProfile, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := c.kv.Get(ctx, profileKey(id))
		if err != nil {
			return nil, fmt.Errorf("pull profile %s: %w", id, err)
		}
		if !ok {
			continue
		}
		meta, _ := c.kv.HGetAll(ctx, profileKey(id)+":meta")
		version, _ := strconv.ParseInt(meta["version"], 10, 64)
		profiles = append(profiles, RawProfile{
			ID:      id,
			Extends: meta["extends"],
			JSON:    []byte(raw),
			Version: version,
		})
	}
	return profiles, nil
}

func (c *RedisConfigClient) pullThresholds(ctx context.Context, scope string) (RawThresholds, error) {
	fields, err := c.kv.HGetAll(ctx, thresholdsKey(scope))
	if err != nil {
		return RawThresholds{}, fmt.Errorf("pull thresholds %s: %w", scope, err)
	}
	return RawThresholds{Scope: scope, Fields: fields}, nil
}

func (c *RedisConfigClient) pullKeywords(ctx context.Context, scope string) (RawKeywordSet, error) {
	block, err := c.kv.SMembers(ctx, keywordBlockKey(scope))
	if err != nil {
		return RawKeywordSet{}, fmt.Errorf("pull keyword block set %s: %w", scope, err)
	}
	flagScored, err := c.kv.ZRangeWithScores(ctx, keywordFlagKey(scope))
	if err != nil {
		return RawKeywordSet{}, fmt.Errorf("pull keyword flag set %s: %w", scope, err)
	}
	flag := make(map[string]int, len(flagScored))
	for member, score := range flagScored {
		flag[member] = int(score)
	}
	return RawKeywordSet{Scope: scope, Block: block, Flag: flag}, nil
}

func (c *RedisConfigClient) pullPatterns(ctx context.Context, scope string) (RawPatternSet, error) {
	disabled, err := c.kv.SMembers(ctx, patternKey(scope)+":disabled")
	if err != nil {
		return RawPatternSet{}, fmt.Errorf("pull pattern disabled %s: %w", scope, err)
	}
	custom, err := c.kv.SMembers(ctx, patternKey(scope)+":custom")
	if err != nil {
		return RawPatternSet{}, fmt.Errorf("pull pattern custom %s: %w", scope, err)
	}
	return RawPatternSet{Scope: scope, Disabled: disabled, Custom: custom}, nil
}

func (c *RedisConfigClient) pullCaptchaProviders(ctx context.Context) ([]RawCaptchaProvider, error) {
	names, err := c.kv.SMembers(ctx, captchaIdxKey)
	if err != nil {
		return nil, fmt.Errorf("pull captcha index: %w", err)
	}
	out := make([]RawCaptchaProvider, 0, len(names))
	for _, name := range names {
		fields, err := c.kv.HGetAll(ctx, "waf:captcha:provider:"+name)
		if err != nil {
			return nil, fmt.Errorf("pull captcha provider %s: %w", name, err)
		}
		out = append(out, RawCaptchaProvider{
			Name:      name,
			SiteKey:   fields["site_key"],
			SecretKey: fields["secret_key"],
			VerifyURL: fields["verify_url"],
		})
	}
	return out, nil
}

func (c *RedisConfigClient) pullFingerprintProfiles(ctx context.Context) ([]RawFingerprintProfile, error) {
	ids, err := c.kv.SMembers(ctx, fpIdxKey)
	if err != nil {
		return nil, fmt.Errorf("pull fingerprint index: %w", err)
	}
	out := make([]RawFingerprintProfile, 0, len(ids))
	for _, id := range ids {
		fields, err := c.kv.HGetAll(ctx, "waf:fingerprint:profile:"+id)
		if err != nil {
			return nil, fmt.Errorf("pull fingerprint profile %s: %w", id, err)
		}
		rate, _ := strconv.ParseInt(fields["rate_limit"], 10, 64)
		out = append(out, RawFingerprintProfile{ID: id, RateLimit: rate, Fields: fields})
	}
	return out, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
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
