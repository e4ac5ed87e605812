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
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"formwaf/internal/waf/audit"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
)

// respond translates the executor's Decision into the §6 verdict table:
// allow/monitor forward, block returns 403, tarpit sleeps then 429 or
// forwards, captcha challenges or redirects on verified trust.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, ctx config.EffectiveContext, d executor.Decision) {
	injectResponseHeaders(w, ctx, d)

	switch d.FinalAction {
	case executor.ActionBlock:
		if !ctx.ShouldBlock() {
			// §4.G.5: in monitoring/passthrough mode a latched block is
			// only a would-block marker (already surfaced via
			// X-WAF-Would-Block above) — P3 requires the request still
			// be forwarded.
			s.forward(w, r, ctx)
			return
		}
		writeBlocked(w, ctx, d)
	case executor.ActionTarpit:
		s.handleTarpit(w, r, ctx, d)
	case executor.ActionCaptcha:
		s.handleCaptchaChallenge(w, r, ctx)
	default: // allow, monitor, or unset (profile/graph error fallback)
		s.forward(w, r, ctx)
	}
}

// writeBlocked writes the 403 JSON body. Reason/request_id are only
// revealed when debug headers are exposed, per §6 ("reason omitted if
// headers hidden").
func writeBlocked(w http.ResponseWriter, ctx config.EffectiveContext, d executor.Decision) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)

	body := map[string]interface{}{"error": "Request blocked"}
	if ctx.Thresholds.ExposeWAFHeaders {
		body["reason"] = d.BlockReason
		body["request_id"] = uuid.NewString()
	}
	_ = json.NewEncoder(w).Encode(body)
}

// handleTarpit sleeps delay_seconds, then either blocks (429) or forwards,
// per §6's "then-block"/"then-allow" tarpit outcome.
func (s *Server) handleTarpit(w http.ResponseWriter, r *http.Request, ctx config.EffectiveContext, d executor.Decision) {
	delay := time.Duration(d.TarpitDelayMS) * time.Millisecond
	if delay <= 0 {
		delay = ctx.Timing.TarpitDelay
	}

	select {
	case <-time.After(delay):
	case <-r.Context().Done():
		return
	}

	if d.TarpitThen == executor.ActionAllow {
		s.forward(w, r, ctx)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Too Many Requests"})
}

// emitAudit packages a decision into an audit event, per SPEC_FULL Part D
// #3. A nil audit emitter (or one over a nil sink) makes this a no-op.
func (s *Server) emitAudit(ctx context.Context, effective config.EffectiveContext, d executor.Decision) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, audit.Event{
		VhostID:    effective.VhostID,
		EndpointID: effective.EndpointID,
		ClientIP:   effective.ClientIP,
		Verdict:    verdictLabel(effective, d),
		Score:      d.Score,
		Flags:      d.Flags,
		BlockedBy:  d.BlockReason,
		Details:    d.Details,
	})
}
