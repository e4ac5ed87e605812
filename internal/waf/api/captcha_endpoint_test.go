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
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/captcha"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
	"formwaf/internal/waf/resolve"
	"formwaf/internal/waf/store"
)

type fakeChallengeRecorder struct {
	issued []store.ChallengeRecord
	solved map[string]time.Time
}

func newFakeChallengeRecorder() *fakeChallengeRecorder {
	return &fakeChallengeRecorder{solved: map[string]time.Time{}}
}

func (f *fakeChallengeRecorder) Issue(ctx context.Context, rec store.ChallengeRecord) error {
	f.issued = append(f.issued, rec)
	return nil
}

func (f *fakeChallengeRecorder) MarkSolved(ctx context.Context, token string, solvedAt time.Time) error {
	f.solved[token] = solvedAt
	return nil
}

type fakeVerifier struct {
	ok bool
}

func (f *fakeVerifier) Verify(ctx context.Context, cfg config.CaptchaConfig, response, remoteIP string) (bool, error) {
	if !f.ok {
		return false, nil
	}
	return true, nil
}

func newTestCaptchaManager(t *testing.T) *captcha.Manager {
	t.Helper()
	return captcha.NewManager(newFakeChallengeRecorder(), &fakeVerifier{ok: true}, captcha.NewSigner([]byte("test-signing-key")), time.Hour)
}

func newCaptchaTestServer(t *testing.T, verifierOK bool) *Server {
	t.Helper()
	c := cache.New()
	snap := &cache.Snapshot{
		Version: 1,
		Endpoints: map[string]cache.Endpoint{
			"ep1": {ID: "ep1", Captcha: config.CaptchaConfig{Provider: "recaptcha", TrustDuration: time.Hour}},
		},
	}
	c.Put(snap)

	signer := captcha.NewSigner([]byte("test-signing-key"))
	mgr := captcha.NewManager(newFakeChallengeRecorder(), &fakeVerifier{ok: verifierOK}, signer, time.Hour)

	resolver := resolve.New(c.Regex)
	exec := executor.NewExecutor(executor.NewRegistry(), executor.NewRegistry())
	return NewServer(c, resolver, exec, mgr, signer, nil)
}

func TestHandleCaptchaVerify_Success(t *testing.T) {
	s := newCaptchaTestServer(t, true)

	token, err := s.captcha.IssueChallenge(context.Background(), "v1", "ep1", "1.2.3.4", "recaptcha")
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	form := url.Values{
		"challenge_token":  {token},
		"captcha_response": {"proof-blob"},
		"endpoint_id":      {"ep1"},
		"return_to":        {"/thank-you"},
	}
	req := httptest.NewRequest(http.MethodPost, "/captcha/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "1.2.3.4:5555"
	w := httptest.NewRecorder()

	s.handleCaptchaVerify(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/thank-you" {
		t.Fatalf("expected redirect to /thank-you, got %q", loc)
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == trustCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatalf("expected a %s cookie to be set", trustCookieName)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("expected trust cookie to be HttpOnly and Secure, got %#v", cookie)
	}
}

func TestHandleCaptchaVerify_ProviderRejects(t *testing.T) {
	s := newCaptchaTestServer(t, false)

	token, err := s.captcha.IssueChallenge(context.Background(), "v1", "ep1", "1.2.3.4", "recaptcha")
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	form := url.Values{
		"challenge_token":  {token},
		"captcha_response": {"bad-proof"},
		"endpoint_id":      {"ep1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/captcha/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.handleCaptchaVerify(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on provider rejection, got %d", w.Code)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Fatalf("expected no trust cookie on rejection")
	}
}

func TestHandleCaptchaVerify_MissingFields(t *testing.T) {
	s := newCaptchaTestServer(t, true)

	req := httptest.NewRequest(http.MethodPost, "/captcha/verify", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	s.handleCaptchaVerify(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}
}

func TestHandleCaptchaVerify_RejectsNonPost(t *testing.T) {
	s := newCaptchaTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/captcha/verify", nil)
	w := httptest.NewRecorder()

	s.handleCaptchaVerify(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}
}

func TestHandleCaptchaChallenge_RedirectsOnExistingTrust(t *testing.T) {
	s := newCaptchaTestServer(t, true)
	ctx := config.EffectiveContext{EndpointID: "ep1", ClientIP: "1.2.3.4"}

	now := time.Now()
	trustValue, err := s.signer.Sign(captcha.TrustCookie{EndpointID: "ep1", IP: "1.2.3.4", IssuedAt: now.Unix(), ExpiresAt: now.Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("sign trust cookie: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/submit", nil)
	req.AddCookie(&http.Cookie{Name: trustCookieName, Value: trustValue})
	w := httptest.NewRecorder()

	s.handleCaptchaChallenge(w, req, ctx)

	if w.Code != http.StatusFound {
		t.Fatalf("expected redirect for a client already holding valid trust, got %d", w.Code)
	}
}
