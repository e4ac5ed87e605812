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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
	"formwaf/internal/waf/logging"
	"formwaf/internal/waf/resolve"
	"formwaf/internal/waf/telemetry"
)

const maxJSONBody = 1 << 20 // 1 MiB; large bodies are not form submissions

// handleInspect is the D->E->F->G request path: resolve the effective
// context, short-circuit on allowlist/disabled/skip conditions, otherwise
// parse the submission and run it through the defense-profile executor.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap := s.cache.Current()

	req := resolve.Request{
		Host:           r.Host,
		Path:           r.URL.Path,
		Method:         r.Method,
		PeerIP:         peerIP(r),
		ForwardedForIP: firstForwardedFor(r.Header.Get("X-Forwarded-For")),
	}
	ctx := s.resolver.Resolve(snap, req)
	injectContextHeaders(r, ctx)

	inspected := s.methodInspected(r.Method) && s.contentTypeInspected(r.Header.Get("Content-Type"))

	if ctx.SkipWAF || ctx.AllowedIP || !inspected {
		telemetry.ObserveDecision("skipped", 0, false, time.Since(start))
		s.forward(w, r, ctx)
		return
	}

	form := s.parseForm(r)

	decision := s.runProfile(r, snap, ctx, form)

	elapsed := time.Since(start)
	telemetry.ObserveDecision(verdictLabel(ctx, decision), decision.Score, decision.ExecutionSlow, elapsed)
	s.emitAudit(r.Context(), ctx, decision)
	injectDecisionHeaders(r, decision)
	s.respond(w, r, ctx, decision)
}

// verdictLabel resolves the metric/audit label for d under ctx's mode. A
// latched ActionBlock is only a real block when ctx.ShouldBlock(); in
// monitoring/passthrough mode it is surfaced as "monitored" instead, per
// P3/Scenario 2 — the request was forwarded, not blocked.
func verdictLabel(ctx config.EffectiveContext, d executor.Decision) string {
	if d.FinalAction == "" {
		return "allow"
	}
	if !ctx.ShouldBlock() && d.FinalAction == executor.ActionBlock {
		return "monitored"
	}
	return string(d.FinalAction)
}

// runProfile loads ctx's defense profile, resolves inheritance (via the hot
// cache's InheritanceLRU), builds its graph and runs the executor. Any
// failure along the way falls back to the profile's configured
// default_action (or allow) with a profile_error flag, per §4.G.3/§4.G.7 —
// it never aborts the request.
func (s *Server) runProfile(r *http.Request, snap *cache.Snapshot, ctx config.EffectiveContext, form map[string][]string) executor.Decision {
	if snap == nil {
		logging.Warn(component, "no config snapshot loaded yet", nil)
		return executor.Decision{FinalAction: executor.ActionAllow, Flags: []string{"profile_error:no_snapshot"}}
	}
	profile, ok := snap.Profiles[ctx.ProfileID]
	if !ok {
		logging.Warn(component, "no such defense profile: "+ctx.ProfileID, nil)
		return executor.Decision{FinalAction: executor.ActionAllow, Flags: []string{"profile_error:not_found"}}
	}

	resolved, err := s.resolveProfile(snap, profile)
	if err != nil {
		logging.Warn(component, "profile inheritance resolution failed", err)
		return executor.Decision{FinalAction: executor.ActionAllow, Flags: []string{"profile_error:" + err.Error()}}
	}

	graph, err := executor.BuildGraph(resolved)
	if err != nil {
		logging.Warn(component, "profile graph construction failed", err)
		return executor.Decision{
			FinalAction: defaultActionOr(resolved.Settings.DefaultAction, executor.ActionAllow),
			Flags:       []string{"profile_error:" + err.Error()},
		}
	}

	rc := &executor.RequestContext{
		Effective: ctx,
		Snapshot:  snap,
		Form:      form,
		Headers:   r.Header,
		UserAgent: r.UserAgent(),
		ClientIP:  ctx.ClientIP,
		Now:       time.Now(),
	}
	return s.exec.Run(r.Context(), graph, rc)
}

// resolveProfile returns the flattened (extends-resolved) Profile for p,
// serving from the hot cache's InheritanceLRU when the id+version pair has
// already been resolved.
func (s *Server) resolveProfile(snap *cache.Snapshot, p cache.Profile) (*executor.Profile, error) {
	key := fmt.Sprintf("%s@%d", p.ID, p.Version)
	if s.cache.Inheritance != nil {
		if cached, ok := s.cache.Inheritance.Get(key); ok {
			if resolved, ok := cached.(*executor.Profile); ok {
				return resolved, nil
			}
		}
	}

	raw, err := executor.ParseProfile(p.JSON)
	if err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", p.ID, err)
	}

	loader := func(id string) (*executor.Profile, error) {
		parent, ok := snap.Profiles[id]
		if !ok {
			return nil, fmt.Errorf("unknown parent profile %q", id)
		}
		return executor.ParseProfile(parent.JSON)
	}

	resolved, err := executor.ResolveInheritance(loader, raw, 0)
	if err != nil {
		return nil, err
	}
	if s.cache.Inheritance != nil {
		s.cache.Inheritance.Put(key, resolved)
	}
	return resolved, nil
}

func defaultActionOr(defaultAction string, fallback executor.ActionKind) executor.ActionKind {
	if defaultAction == "" {
		return fallback
	}
	return executor.ActionKind(defaultAction)
}

// parseForm extracts form fields into a flat field->values map regardless
// of wire encoding (urlencoded, multipart, JSON), per §6's configurable
// content-type list. Parse failures are logged and treated as an empty
// form per §7 ("request treated as if it has no form fields") — the
// pipeline still runs, just against zero fields.
func (s *Server) parseForm(r *http.Request) map[string][]string {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = r.Header.Get("Content-Type")
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			logging.Warn(component, "multipart form parse failed", err)
			return map[string][]string{}
		}
		if r.MultipartForm == nil {
			return map[string][]string{}
		}
		return sanitizeValues(r.MultipartForm.Value)

	case mediaType == "application/json":
		body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
		if err != nil {
			logging.Warn(component, "json body read failed", err)
			return map[string][]string{}
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var raw map[string]interface{}
		if err := json.Unmarshal(body, &raw); err != nil {
			logging.Warn(component, "json body parse failed", err)
			return map[string][]string{}
		}
		return flattenJSON(raw)

	default:
		if err := r.ParseForm(); err != nil {
			logging.Warn(component, "urlencoded form parse failed", err)
			return map[string][]string{}
		}
		return sanitizeValues(r.Form)
	}
}

func flattenJSON(raw map[string]interface{}) map[string][]string {
	out := make(map[string][]string, len(raw))
	for k, v := range raw {
		switch vv := v.(type) {
		case []interface{}:
			vals := make([]string, 0, len(vv))
			for _, item := range vv {
				vals = append(vals, sanitizeUTF8(fmt.Sprintf("%v", item)))
			}
			out[k] = vals
		default:
			out[k] = []string{sanitizeUTF8(fmt.Sprintf("%v", v))}
		}
	}
	return out
}

// sanitizeValues applies §9's charset-handling rule: every value reaching
// a defense handler must be valid UTF-8, with bytes that cannot be
// converted replaced by "_".
func sanitizeValues(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, vals := range in {
		sv := make([]string, len(vals))
		for i, v := range vals {
			sv[i] = sanitizeUTF8(v)
		}
		out[k] = sv
	}
	return out
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if r == utf8.RuneError {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Server) methodInspected(method string) bool {
	if len(s.methods) == 0 {
		return true
	}
	_, ok := s.methods[strings.ToUpper(method)]
	return ok
}

func (s *Server) contentTypeInspected(contentType string) bool {
	if len(s.contentTypes) == 0 {
		return true
	}
	if _, ok := s.contentTypes["*"]; ok {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	_, ok := s.contentTypes[mediaType]
	return ok
}

// peerIP strips the port from RemoteAddr; ForwardedForIP (when present)
// takes precedence in resolve.Request.ClientIP per §6.
func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstForwardedFor(xff string) string {
	if xff == "" {
		return ""
	}
	parts := strings.SplitN(xff, ",", 2)
	return strings.TrimSpace(parts[0])
}
