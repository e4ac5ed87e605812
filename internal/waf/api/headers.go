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

package api

import (
	"net/http"
	"strconv"
	"strings"

	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
)

// injectContextHeaders sets the §6 "always, for cooperating downstream
// proxies" headers that are available as soon as the request context is
// resolved, before the executor has run.
func injectContextHeaders(r *http.Request, ctx config.EffectiveContext) {
	debug := "off"
	if ctx.Thresholds.ExposeWAFHeaders {
		debug = "on"
	}

	h := r.Header
	h.Set("X-WAF-Debug", debug)
	h.Set("X-WAF-Mode", string(ctx.Mode))
	h.Set("X-WAF-Vhost", ctx.VhostID)
	h.Set("X-WAF-Endpoint", ctx.EndpointID)
	h.Set("X-WAF-Match-Type", string(ctx.EndpointMatchKind))
	h.Set("X-WAF-Vhost-Match", string(ctx.VhostMatchKind))
	h.Set("X-Client-IP", ctx.ClientIP)
	h.Set("X-WAF-Rate-Limit", strconv.FormatBool(ctx.RateLimit.Enabled))
	h.Set("X-WAF-Rate-Limit-Value", strconv.FormatInt(ctx.RateLimit.PerMinute, 10))
	h.Set("X-WAF-Spam-Threshold", strconv.FormatInt(ctx.Thresholds.SpamScoreBlock, 10))
	h.Set("X-WAF-Hash-Rate-Threshold", strconv.FormatInt(ctx.Thresholds.HashCountBlock, 10))
	h.Set("X-WAF-IP-Spam-Threshold", strconv.FormatInt(ctx.Thresholds.IPSpamScoreThreshold, 10))
	h.Set("X-WAF-Fingerprint-Threshold", strconv.FormatInt(ctx.Thresholds.FingerprintRateLimit, 10))
	if ctx.AllowedIP {
		h.Set("X-Allowed-IP", "true")
	}
}

// injectDecisionHeaders sets the score/flag/fingerprint headers that only
// exist once the executor has produced a Decision.
func injectDecisionHeaders(r *http.Request, d executor.Decision) {
	h := r.Header
	h.Set("X-Spam-Score", strconv.Itoa(d.Score))
	if len(d.Flags) > 0 {
		h.Set("X-Spam-Flags", strings.Join(d.Flags, ","))
	}
	if d.Details == nil {
		return
	}
	if hash, ok := d.Details["form_hash"].(string); ok && hash != "" {
		h.Set("X-Form-Hash", hash)
	}
	if fp, ok := d.Details["fingerprint"].(string); ok && fp != "" {
		h.Set("X-Submission-Fingerprint", fp)
	}
	if profile, ok := d.Details["fingerprint_profile"].(string); ok && profile != "" {
		h.Set("X-Fingerprint-Profile", profile)
	}
	if filtered, ok := d.Details["filtered_fields"].([]string); ok && len(filtered) > 0 {
		h.Set("X-WAF-Filtered", "true")
		h.Set("X-WAF-Filtered-Fields", strings.Join(filtered, ","))
	}
}

// injectResponseHeaders mirrors the request-side debug headers onto the
// response, plus the block/would-block/allowlist/GeoIP headers, but only
// when ctx.Thresholds.ExposeWAFHeaders is set per §6 ("only when
// expose_waf_headers is true or debug override set").
func injectResponseHeaders(w http.ResponseWriter, ctx config.EffectiveContext, d executor.Decision) {
	if !ctx.Thresholds.ExposeWAFHeaders {
		return
	}

	h := w.Header()
	h.Set("X-WAF-Mode", string(ctx.Mode))
	h.Set("X-WAF-Vhost", ctx.VhostID)
	h.Set("X-WAF-Endpoint", ctx.EndpointID)
	h.Set("X-WAF-Match-Type", string(ctx.EndpointMatchKind))
	h.Set("X-WAF-Vhost-Match", string(ctx.VhostMatchKind))
	h.Set("X-Client-IP", ctx.ClientIP)
	h.Set("X-Allowed-IP", strconv.FormatBool(ctx.AllowedIP))
	h.Set("X-Spam-Score", strconv.Itoa(d.Score))
	if len(d.Flags) > 0 {
		h.Set("X-Spam-Flags", strings.Join(d.Flags, ","))
	}

	if d.FinalAction == executor.ActionBlock && ctx.ShouldBlock() {
		h.Set("X-Blocked", "true")
		h.Set("X-Block-Reason", d.BlockReason)
	}
	if len(d.WouldBlockReasons) > 0 {
		h.Set("X-WAF-Would-Block", "true")
		h.Set("X-WAF-Block-Reason", strings.Join(d.WouldBlockReasons, ","))
	}

	if d.Details == nil {
		return
	}
	if country, ok := d.Details["country"].(string); ok && country != "" {
		h.Set("X-GeoIP-Country", country)
	}
	if asn, ok := d.Details["geoip_asn"].(string); ok && asn != "" {
		h.Set("X-GeoIP-ASN", asn)
	}
}
