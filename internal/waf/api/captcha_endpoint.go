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
	"html/template"
	"net/http"
	"time"

	"formwaf/internal/waf/config"
	"formwaf/internal/waf/logging"
	"formwaf/internal/waf/telemetry"
)

// handleCaptchaChallenge serves the executor's "captcha" verdict: a client
// already holding a valid trust cookie for this endpoint is redirected back
// to the original URI (§6); otherwise a new challenge is issued and a
// minimal challenge page rendered. The actual challenge-widget HTML is an
// external collaborator per §1 Non-goals — this stub carries only what the
// contract in §6 requires (challenge_token, endpoint_id, provider site
// key) for a real template to be dropped in later.
func (s *Server) handleCaptchaChallenge(w http.ResponseWriter, r *http.Request, ctx config.EffectiveContext) {
	if s.signer != nil {
		if cookie, err := r.Cookie(trustCookieName); err == nil {
			if s.signer.HasValidTrust(cookie.Value, ctx.EndpointID, ctx.ClientIP, time.Now()) {
				http.Redirect(w, r, r.URL.String(), http.StatusFound)
				return
			}
		}
	}

	if s.captcha == nil {
		http.Error(w, "captcha unavailable", http.StatusServiceUnavailable)
		return
	}

	token, err := s.captcha.IssueChallenge(r.Context(), ctx.VhostID, ctx.EndpointID, ctx.ClientIP, ctx.Captcha.Provider)
	if err != nil {
		logging.Warn(component, "failed to issue captcha challenge", err)
		http.Error(w, "captcha unavailable", http.StatusServiceUnavailable)
		return
	}
	telemetry.ObserveCaptchaIssued()
	writeChallengePage(w, ctx, r.URL.String(), token)
}

// handleCaptchaVerify is the "POST /captcha/verify" collaborator contract
// from §6: form fields challenge_token/captcha_response, plus endpoint_id
// and return_to carried as hidden fields on the challenge page so the
// endpoint stays stateless from the client's point of view (no server-side
// session needed to know which endpoint/CAPTCHA config or URL to return to).
func (s *Server) handleCaptchaVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.captcha == nil {
		http.Error(w, "captcha unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	token := r.FormValue("challenge_token")
	response := r.FormValue("captcha_response")
	endpointID := r.FormValue("endpoint_id")
	returnTo := r.FormValue("return_to")
	if token == "" || response == "" {
		http.Error(w, "missing challenge_token or captcha_response", http.StatusBadRequest)
		return
	}
	if returnTo == "" {
		returnTo = "/"
	}

	var cfg config.CaptchaConfig
	if snap := s.cache.Current(); snap != nil {
		if ep, ok := snap.Endpoints[endpointID]; ok {
			cfg = ep.Captcha
		}
	}

	clientIP := peerIP(r)
	if xff := firstForwardedFor(r.Header.Get("X-Forwarded-For")); xff != "" {
		clientIP = xff
	}

	cookieValue, err := s.captcha.VerifyAndIssueCookie(r.Context(), cfg, endpointID, clientIP, response, token)
	if err != nil {
		telemetry.ObserveCaptchaVerified("failed")
		logging.Warn(component, "captcha verification failed", err)
		http.Error(w, "captcha verification failed", http.StatusForbidden)
		return
	}
	telemetry.ObserveCaptchaVerified("ok")

	ttl := cfg.TrustDuration
	if ttl <= 0 {
		ttl = defaultTrustTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     trustCookieName,
		Value:    cookieValue,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, returnTo, http.StatusFound)
}

var challengeTemplate = template.Must(template.New("captcha_challenge").Parse(`<!DOCTYPE html>
<html>
<head><title>Verify you are human</title></head>
<body>
<form method="POST" action="/captcha/verify">
<input type="hidden" name="challenge_token" value="{{.Token}}">
<input type="hidden" name="endpoint_id" value="{{.EndpointID}}">
<input type="hidden" name="return_to" value="{{.ReturnTo}}">
<div data-provider="{{.Provider}}" data-sitekey="{{.SiteKey}}"></div>
<input type="text" name="captcha_response" placeholder="captcha response">
<button type="submit">Continue</button>
</form>
</body>
</html>
`))

type challengePage struct {
	Token, EndpointID, ReturnTo, Provider, SiteKey string
}

func writeChallengePage(w http.ResponseWriter, ctx config.EffectiveContext, returnTo, token string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = challengeTemplate.Execute(w, challengePage{
		Token:      token,
		EndpointID: ctx.EndpointID,
		ReturnTo:   returnTo,
		Provider:   ctx.Captcha.Provider,
		SiteKey:    ctx.Captcha.SiteKey,
	})
}
