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
)

// kvWriter is the handful of write commands the Sync Coordinator's one-shot
// seeding (§4.C) needs. Kept separate from kvBackend (read-only) so the
// config client itself never needs write access to the store.
type kvWriter interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	SAdd(ctx context.Context, key string, members ...string) error
	Set(ctx context.Context, key, value string) error
}

func (LoggingKVBackend) HSet(ctx context.Context, key string, fields map[string]string) error {
	fmt.Printf("[store-demo] HSET %s %v\n", key, fields)
	return nil
}

func (LoggingKVBackend) SAdd(ctx context.Context, key string, members ...string) error {
	fmt.Printf("[store-demo] SADD %s %v\n", key, members)
	return nil
}

func (LoggingKVBackend) Set(ctx context.Context, key, value string) error {
	fmt.Printf("[store-demo] SET %s %s\n", key, value)
	return nil
}

func (g *GoRedisKV) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return g.c.HSet(ctx, key, args).Err()
}

func (g *GoRedisKV) SAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return g.c.SAdd(ctx, key, args...).Err()
}

func (g *GoRedisKV) Set(ctx context.Context, key, value string) error {
	return g.c.Set(ctx, key, value, 0).Err()
}

// BuiltinFingerprintProfile is one entry of the seeded builtin fingerprint
// profile table.
type BuiltinFingerprintProfile struct {
	ID        string
	RateLimit int64
}

// BuiltinDefenseProfile is a builtin defense-profile document the
// Coordinator seeds (or updates in place when its Version is above the
// stored version), keyed by id with the raw profile JSON the executor package's
// ParseProfile understands.
type BuiltinDefenseProfile struct {
	ID      string
	JSON    string
	Version int64
}

// DefaultBuiltinFingerprintProfiles mirrors §4.C's seeding requirement for
// "builtin-fingerprint-profile records": a single conservative default.
func DefaultBuiltinFingerprintProfiles() []BuiltinFingerprintProfile {
	return []BuiltinFingerprintProfile{
		{ID: "default", RateLimit: 120},
	}
}

// DefaultBuiltinDefenseProfiles is the seed set for "waf:defense_profiles:*"
// per §4.C. "default" is the profile new endpoints implicitly reference
// (resolve.go falls back to ProfileID "default") and is deliberately
// minimal: keyword scan and honeypot feed a sum, which threshold-branches
// into allow/flag/block.
func DefaultBuiltinDefenseProfiles() []BuiltinDefenseProfile {
	const defaultProfileJSON = `{
  "id": "default",
  "nodes": [
    {"id": "start", "type": "start", "outputs": {"next": "honeypot"}},
    {"id": "honeypot", "type": "defense", "name": "honeypot", "outputs": {"continue": "keywords"}},
    {"id": "keywords", "type": "defense", "name": "keyword_scan", "outputs": {"continue": "score"}},
    {"id": "score", "type": "operator", "name": "sum", "inputs": ["honeypot", "keywords"], "outputs": {"continue": "branch"}},
    {"id": "branch", "type": "operator", "name": "threshold_branch", "inputs": ["score"],
      "config": {"ranges": [{"min": 0, "max": 50, "output": "low"}, {"min": 50, "max": 80, "output": "medium"}, {"min": 80, "output": "high"}]},
      "outputs": {"low": "allow", "medium": "flag_medium", "high": "block"}},
    {"id": "flag_medium", "type": "action", "name": "flag", "outputs": {"next": "allow"}},
    {"id": "allow", "type": "action", "name": "allow"},
    {"id": "block", "type": "action", "name": "block"}
  ],
  "settings": {"default_action": "allow"}
}`
	return []BuiltinDefenseProfile{
		{ID: "default", JSON: defaultProfileJSON, Version: 1},
	}
}

// Seeder performs the Sync Coordinator's one-shot default-seeding pass
// (§4.C): on first start, if threshold/routing/default-vhost/builtin
// fingerprint-profile records are absent, write sensible defaults; on every
// tick, builtin defense profiles are version-checked and updated in place
// while leaving any user-created (non-builtin) profile untouched.
type Seeder struct {
	kv kvBackend
	w  kvWriter
}

// NewSeeder wires a seeder against the same backend the config client
// reads from. Pass a *GoRedisKV for production or LoggingKVBackend{} for a
// dependency-free wiring.
func NewSeeder(kv kvBackend, w kvWriter) *Seeder {
	return &Seeder{kv: kv, w: w}
}

// SeedDefaults runs the one-shot portion of §4.C: thresholds, routing, the
// _default vhost, and builtin fingerprint profiles, each written only if
// currently absent.
func (s *Seeder) SeedDefaults(ctx context.Context) error {
	if err := s.seedThresholds(ctx); err != nil {
		return fmt.Errorf("seed thresholds: %w", err)
	}
	if err := s.seedRouting(ctx); err != nil {
		return fmt.Errorf("seed routing: %w", err)
	}
	if err := s.seedDefaultVhost(ctx); err != nil {
		return fmt.Errorf("seed default vhost: %w", err)
	}
	if err := s.seedFingerprintProfiles(ctx); err != nil {
		return fmt.Errorf("seed fingerprint profiles: %w", err)
	}
	return nil
}

func (s *Seeder) seedThresholds(ctx context.Context) error {
	existing, err := s.kv.HGetAll(ctx, thresholdsKey("global"))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return s.w.HSet(ctx, thresholdsKey("global"), map[string]string{
		"spam_score_block":        "80",
		"spam_score_flag":         "50",
		"hash_count_block":        "5",
		"ip_rate_limit":           "120",
		"ip_spam_score_threshold": "100",
		"fingerprint_rate_limit":  "120",
		"expose_waf_headers":      "false",
		"max_execution_time_ms":   "100",
		"execution_iteration_cap": "100",
	})
}

func (s *Seeder) seedRouting(ctx context.Context) error {
	existing, err := s.kv.HGetAll(ctx, "waf:config:routing")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return s.w.HSet(ctx, "waf:config:routing", map[string]string{
		"http_upstream":  "haproxy:80",
		"https_upstream": "haproxy:443",
		"use_tls":        "false",
		"timeout":        "30s",
	})
}

func (s *Seeder) seedDefaultVhost(ctx context.Context) error {
	existing, err := s.kv.HGetAll(ctx, vhostKey("_default"))
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	if err := s.w.HSet(ctx, vhostKey("_default"), map[string]string{
		"enabled":     "true",
		"waf_enabled": "true",
		"mode":        "blocking",
		"priority":    "999999",
	}); err != nil {
		return err
	}
	return s.w.SAdd(ctx, vhostIndexKey, "_default")
}

func (s *Seeder) seedFingerprintProfiles(ctx context.Context) error {
	for _, p := range DefaultBuiltinFingerprintProfiles() {
		key := "waf:fingerprint:profile:" + p.ID
		existing, err := s.kv.HGetAll(ctx, key)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if err := s.w.HSet(ctx, key, map[string]string{"rate_limit": fmt.Sprintf("%d", p.RateLimit)}); err != nil {
			return err
		}
		if err := s.w.SAdd(ctx, fpIdxKey, p.ID); err != nil {
			return err
		}
	}
	return nil
}

// SeedBuiltinProfiles runs every tick (not just the first): each builtin
// profile's stored version (the meta hash's "version" field) is compared
// against the compiled-in version; a lower stored version means the record is updated in place. A
// profile id absent from the store entirely is created fresh. User-created
// profiles never appear in DefaultBuiltinDefenseProfiles and so are never
// touched here, per §4.C's "preserves user-created (non-builtin) profiles".
func (s *Seeder) SeedBuiltinProfiles(ctx context.Context) error {
	for _, p := range DefaultBuiltinDefenseProfiles() {
		meta, err := s.kv.HGetAll(ctx, profileKey(p.ID)+":meta")
		if err != nil {
			return fmt.Errorf("read profile meta %s: %w", p.ID, err)
		}
		storedVersion := parseInt64(meta["version"])
		isBuiltin := meta["builtin"] == "true"
		if len(meta) > 0 && !isBuiltin {
			// A user has claimed this id for a non-builtin profile; leave it.
			continue
		}
		if len(meta) > 0 && storedVersion >= p.Version {
			continue
		}
		if err := s.w.Set(ctx, profileKey(p.ID), p.JSON); err != nil {
			return fmt.Errorf("write profile %s: %w", p.ID, err)
		}
		if err := s.w.HSet(ctx, profileKey(p.ID)+":meta", map[string]string{
			"builtin":          "true",
			"builtin_version":  fmt.Sprintf("%d", p.Version),
			"version":          fmt.Sprintf("%d", p.Version),
		}); err != nil {
			return fmt.Errorf("write profile meta %s: %w", p.ID, err)
		}
		if err := s.w.SAdd(ctx, "waf:index:profiles", p.ID); err != nil {
			return fmt.Errorf("index profile %s: %w", p.ID, err)
		}
	}
	return nil
}

func parseInt64(s string) int64 {
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
