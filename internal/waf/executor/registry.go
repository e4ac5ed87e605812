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

package executor

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler is the contract every defense/observation implementation fulfils.
// cfg is the node's raw per-node config; rc carries the resolved request
// context, hot-cache snapshot, and parsed form fields (internal/waf/defenses
// populates these). Handlers must not mutate rc.
type Handler func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult

// Registry holds named handlers. Defense and observation handlers live in
// separate registries because only defense results contribute to the
// aggregate score (§8 P6); observation results are informational only.
//
// A Registry is built once at startup (internal/waf/defenses registers into
// it) and is read-only for the lifetime of the process, so lookups need no
// locking beyond what sync.RWMutex gives a register-then-freeze lifecycle.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register adds a named handler. Re-registering the same name overwrites it,
// which is convenient for tests; production startup registers each name once.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler for name, if registered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the currently registered handler names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	return out
}
