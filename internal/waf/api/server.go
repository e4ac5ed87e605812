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

// Package api is the public-facing HTTP server: it inspects inbound
// submissions (D->E->F->G in the request-handling pipeline), translates the
// executor's verdict into a response, and forwards admitted traffic to the
// configured upstream. Grounded directly on
// internal/ratelimiter/api/server.go's Server/NewServer/RegisterRoutes
// shape, generalized from a single /check endpoint to the full inspect +
// /captcha/verify surface.
package api

import (
	"net/http"
	"time"

	"formwaf/internal/waf/audit"
	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/captcha"
	"formwaf/internal/waf/executor"
	"formwaf/internal/waf/logging"
	"formwaf/internal/waf/resolve"
)

const component = "api"
const trustCookieName = "waf_trust"
const defaultTrustTTL = time.Hour

// Server wires together the hot cache, the request-context resolver, the
// defense-profile executor and the CAPTCHA manager to serve one HTTP
// listener.
type Server struct {
	cache    *cache.Cache
	resolver *resolve.Resolver
	exec     *executor.Executor
	captcha  *captcha.Manager
	signer   *captcha.Signer
	audit    *audit.Emitter

	methods      map[string]struct{}
	contentTypes map[string]struct{}
}

// NewServer constructs a Server. captchaMgr, signer and auditEmitter may be
// nil, in which case the corresponding feature degrades gracefully (no
// trust cookies honored / no audit events emitted).
func NewServer(c *cache.Cache, r *resolve.Resolver, ex *executor.Executor, captchaMgr *captcha.Manager, signer *captcha.Signer, auditEmitter *audit.Emitter) *Server {
	return &Server{
		cache:    c,
		resolver: r,
		exec:     ex,
		captcha:  captchaMgr,
		signer:   signer,
		audit:    auditEmitter,
		methods: map[string]struct{}{
			http.MethodPost:  {},
			http.MethodPut:   {},
			http.MethodPatch: {},
		},
		contentTypes: map[string]struct{}{
			"application/x-www-form-urlencoded": {},
			"multipart/form-data":               {},
			"application/json":                  {},
		},
	}
}

// WithInspectedMethods overrides the default POST/PUT/PATCH method set
// per §6 ("HTTP methods inspected ... configurable").
func (s *Server) WithInspectedMethods(methods ...string) *Server {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}
	s.methods = set
	return s
}

// WithInspectedContentTypes overrides the default content-type set; "*"
// accepts any content type.
func (s *Server) WithInspectedContentTypes(types ...string) *Server {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	s.contentTypes = set
	return s
}

// RegisterRoutes mounts the inspection handler and the CAPTCHA verification
// endpoint onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/captcha/verify", s.handleCaptchaVerify)
	mux.HandleFunc("/", s.handleInspect)
}

// ListenAndServe starts the HTTP server on addr. cmd/formwaf builds its own
// *http.Server around RegisterRoutes instead, so it can drive graceful
// shutdown; this method exists for standalone use and tests, mirroring the
// teacher's own Server.ListenAndServe.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logging.Info(component, "form WAF listening on "+addr)
	return httpServer.ListenAndServe()
}
