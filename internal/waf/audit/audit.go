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

// Package audit emits one event per inspected request for downstream
// review: the verdict, the aggregated score, which defenses flagged it,
// and the vhost/endpoint it resolved to. Grounded directly on
// store.KafkaAuditPublisher's Publish(ctx, eventID, v) shape: audit itself
// owns the event schema and picks whichever Sink implementation is wired,
// Kafka-backed or Postgres-backed.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"formwaf/internal/waf/logging"
)

const component = "audit"

// Event is one audit record for a single inspected request.
type Event struct {
	EventID    string                 `json:"event_id"`
	VhostID    string                 `json:"vhost_id"`
	EndpointID string                 `json:"endpoint_id"`
	ClientIP   string                 `json:"client_ip"`
	Verdict    string                 `json:"verdict"`
	Score      int                    `json:"score"`
	Flags      []string               `json:"flags"`
	BlockedBy  string                 `json:"blocked_by,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"ts"`
}

// AuditFields implements the unexported fieldSource interface that
// store.PostgresAuditSink type-asserts for, letting it populate indexed
// columns without audit importing store or vice versa.
func (e Event) AuditFields() (vhostID, endpointID, verdict string, score float64) {
	return e.VhostID, e.EndpointID, e.Verdict, float64(e.Score)
}

// Sink publishes a single audit event, keyed by its event id for broker
// dedup/ordering. Matches store.KafkaAuditPublisher.Publish exactly so that
// type is usable here without adapting.
type Sink interface {
	Publish(ctx context.Context, eventID string, v interface{}) error
}

// Emitter stamps and dispatches audit events. A nil Sink makes Emit a
// no-op — audit emission is best-effort per §7 and must never block or
// fail a request.
type Emitter struct {
	sink Sink
}

// NewEmitter wires an Emitter against the given sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Emit stamps ev with a fresh event id and timestamp (if unset) and
// publishes it. Publish failures are logged at WARN and swallowed: per
// §7's "never propagates" rule, a downed audit pipeline must not affect
// the request path.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.sink == nil {
		return
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := e.sink.Publish(ctx, ev.EventID, ev); err != nil {
		logging.Warn(component, "failed to publish audit event", err)
	}
}
