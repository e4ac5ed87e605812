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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/config"
	"formwaf/internal/waf/executor"
	"formwaf/internal/waf/resolve"
)

// actionProfile builds a minimal one-node defense profile JSON that always
// terminates at the given action, optionally carrying tarpit config.
func actionProfile(t *testing.T, action executor.ActionKind, cfg map[string]json.RawMessage) []byte {
	t.Helper()
	p := executor.Profile{
		ID: "p-" + string(action),
		Nodes: []executor.Node{
			{ID: "start", Type: executor.NodeStart, Outputs: map[string]string{"next": "act"}},
			{ID: "act", Type: executor.NodeAction, Name: string(action), Config: cfg},
		},
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal profile: %v", err)
	}
	return raw
}

func rawInt(t *testing.T, v int) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal int: %v", err)
	}
	return b
}

func rawString(t *testing.T, v string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal string: %v", err)
	}
	return b
}

// newTestServer wires a Server against one vhost ("example.com") with one
// endpoint ("/submit", POST) bound to profileID, backed by an in-memory
// snapshot and a real resolver/executor (no defense handlers registered —
// the test profiles terminate directly at an action node).
func newTestServer(t *testing.T, profileID string, profileJSON []byte, exposeHeaders bool) (*Server, *cache.Cache) {
	t.Helper()

	c := cache.New()
	snap := &cache.Snapshot{
		Version:          1,
		GlobalThresholds: config.Thresholds{ExposeWAFHeaders: exposeHeaders},
		VhostIndex: cache.VhostIndex{
			Exact:     map[string]string{"example.com": "v1"},
			DefaultID: "",
		},
		Vhosts: map[string]cache.Vhost{
			"v1": {ID: "v1", Enabled: true, WAFEnabled: true},
		},
		EndpointTables: map[string]cache.EndpointTable{
			"v1": {Exact: map[string]string{"/submit|POST": "ep1"}},
		},
		Endpoints: map[string]cache.Endpoint{
			"ep1": {ID: "ep1", VhostID: "v1", ProfileID: profileID, Captcha: config.CaptchaConfig{Provider: "recaptcha", SiteKey: "site-key"}},
		},
		Profiles: map[string]cache.Profile{
			profileID: {ID: profileID, JSON: profileJSON, Version: 1},
		},
	}
	c.Put(snap)

	resolver := resolve.New(c.Regex)
	exec := executor.NewExecutor(executor.NewRegistry(), executor.NewRegistry())
	s := NewServer(c, resolver, exec, nil, nil, nil)
	return s, c
}

func postForm(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestHandleInspect_AllowForwardsUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	profile := actionProfile(t, executor.ActionAllow, nil)
	s, c := newTestServer(t, "allow-profile", profile, false)

	snap := c.Current()
	ep := snap.Endpoints["ep1"]
	ep.VhostID = "v1"
	vhost := snap.Vhosts["v1"]
	vhost.Routing.HTTPUpstream = strings.TrimPrefix(upstream.URL, "http://")
	snap.Vhosts["v1"] = vhost
	c.Put(snap)

	req := postForm("http://example.com/submit", "name=alice")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from upstream, got %d", w.Code)
	}
}

func TestHandleInspect_Block(t *testing.T) {
	cfg := map[string]json.RawMessage{}
	profile := actionProfile(t, executor.ActionBlock, cfg)
	s, _ := newTestServer(t, "block-profile", profile, true)

	req := postForm("http://example.com/submit", "name=bob")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Request blocked" {
		t.Fatalf("unexpected body: %#v", body)
	}
	if w.Header().Get("X-Blocked") != "true" {
		t.Fatalf("expected X-Blocked header with headers exposed, got %#v", w.Header())
	}
}

func TestHandleInspect_Tarpit_ThenBlock(t *testing.T) {
	cfg := map[string]json.RawMessage{
		"delay_ms": rawInt(t, 1),
		"then":     rawString(t, "block"),
	}
	profile := actionProfile(t, executor.ActionTarpit, cfg)
	s, _ := newTestServer(t, "tarpit-profile", profile, false)

	req := postForm("http://example.com/submit", "name=carl")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after tarpit delay, got %d", w.Code)
	}
}

func TestHandleInspect_Tarpit_ThenAllow(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer upstream.Close()

	cfg := map[string]json.RawMessage{
		"delay_ms": rawInt(t, 1),
		"then":     rawString(t, "allow"),
	}
	profile := actionProfile(t, executor.ActionTarpit, cfg)
	s, c := newTestServer(t, "tarpit-allow-profile", profile, false)

	snap := c.Current()
	vhost := snap.Vhosts["v1"]
	vhost.Routing.HTTPUpstream = strings.TrimPrefix(upstream.URL, "http://")
	snap.Vhosts["v1"] = vhost
	c.Put(snap)

	req := postForm("http://example.com/submit", "name=dana")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 from upstream after tarpit-then-allow, got %d", w.Code)
	}
}

func TestHandleInspect_Captcha_IssuesChallengePage(t *testing.T) {
	profile := actionProfile(t, executor.ActionCaptcha, nil)
	s, _ := newTestServer(t, "captcha-profile", profile, false)
	s.captcha = newTestCaptchaManager(t)

	req := postForm("http://example.com/submit", "name=erin")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 challenge page, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "challenge_token") {
		t.Fatalf("expected challenge page to carry challenge_token field, got body: %s", w.Body.String())
	}
}

func TestHandleInspect_SkipsDisabledVhost(t *testing.T) {
	profile := actionProfile(t, executor.ActionBlock, nil)
	s, c := newTestServer(t, "skip-profile", profile, false)

	snap := c.Current()
	vhost := snap.Vhosts["v1"]
	vhost.Enabled = false
	snap.Vhosts["v1"] = vhost
	c.Put(snap)

	req := postForm("http://example.com/submit", "name=fred")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	// Disabled vhost means SkipWAF -> forward. With no upstream configured,
	// forward() reports a bad gateway rather than ever reaching the block
	// action, proving the executor was never invoked.
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway from skip-then-forward path, got %d", w.Code)
	}
}

func TestHandleInspect_UnknownProfileFallsBackToAllow(t *testing.T) {
	s, c := newTestServer(t, "missing-profile", nil, false)
	snap := c.Current()
	delete(snap.Profiles, "missing-profile")
	c.Put(snap)

	req := postForm("http://example.com/submit", "name=gail")
	w := httptest.NewRecorder()
	s.handleInspect(w, req)

	// No upstream configured: allow falls through to forward(), which
	// reports bad gateway rather than panicking or hanging.
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway after profile_error fallback to allow, got %d", w.Code)
	}
}

func TestParseForm_JSONBody(t *testing.T) {
	s := &Server{}
	body := `{"name":"hank","tags":["a","b"]}`
	r := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	form := s.parseForm(r)
	if form["name"][0] != "hank" {
		t.Fatalf("expected name=hank, got %#v", form)
	}
	if len(form["tags"]) != 2 || form["tags"][0] != "a" {
		t.Fatalf("expected tags=[a b], got %#v", form["tags"])
	}
}

func TestSanitizeUTF8_ReplacesInvalidBytes(t *testing.T) {
	invalid := string([]byte{0x66, 0x6f, 0xff, 0x6f}) // "fo\xffo"
	got := sanitizeUTF8(invalid)
	if got != "fo_o" {
		t.Fatalf("expected fo_o, got %q", got)
	}
}

func TestMethodAndContentTypeInspected(t *testing.T) {
	s := NewServer(cache.New(), resolve.New(nil), executor.NewExecutor(executor.NewRegistry(), executor.NewRegistry()), nil, nil, nil)

	if !s.methodInspected("POST") {
		t.Fatalf("expected POST to be inspected by default")
	}
	if s.methodInspected("GET") {
		t.Fatalf("expected GET to be skipped by default")
	}
	if !s.contentTypeInspected("application/x-www-form-urlencoded; charset=utf-8") {
		t.Fatalf("expected urlencoded content type to be inspected")
	}
	if s.contentTypeInspected("text/plain") {
		t.Fatalf("expected text/plain to be skipped by default")
	}

	s.WithInspectedContentTypes("*")
	if !s.contentTypeInspected("anything/at-all") {
		t.Fatalf("expected wildcard content type to match anything")
	}
}
