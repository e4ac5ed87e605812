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

package audit

import (
	"context"
	"errors"
	"testing"
)

type fakeSink struct {
	events map[string]interface{}
	err    error
}

func newFakeSink() *fakeSink { return &fakeSink{events: map[string]interface{}{}} }

func (f *fakeSink) Publish(ctx context.Context, eventID string, v interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.events[eventID] = v
	return nil
}

func TestEmitter_Emit_StampsIDAndPublishes(t *testing.T) {
	sink := newFakeSink()
	e := NewEmitter(sink)

	e.Emit(context.Background(), Event{VhostID: "v1", EndpointID: "ep1", Verdict: "block", Score: 90})

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one published event, got %d", len(sink.events))
	}
	for id, raw := range sink.events {
		if id == "" {
			t.Fatalf("expected a stamped event id")
		}
		ev, ok := raw.(Event)
		if !ok {
			t.Fatalf("expected Event payload, got %T", raw)
		}
		if ev.Timestamp.IsZero() {
			t.Fatalf("expected a stamped timestamp")
		}
	}
}

func TestEmitter_Emit_SwallowsPublishError(t *testing.T) {
	sink := newFakeSink()
	sink.err = errors.New("broker unreachable")
	e := NewEmitter(sink)

	// Must not panic or block; failures are logged and swallowed.
	e.Emit(context.Background(), Event{Verdict: "allow"})
}

func TestEmitter_Emit_NilSinkIsNoop(t *testing.T) {
	e := NewEmitter(nil)
	e.Emit(context.Background(), Event{Verdict: "allow"})
}

func TestEvent_AuditFields(t *testing.T) {
	ev := Event{VhostID: "v1", EndpointID: "ep1", Verdict: "block", Score: 42}
	vhostID, endpointID, verdict, score := ev.AuditFields()
	if vhostID != "v1" || endpointID != "ep1" || verdict != "block" || score != 42 {
		t.Fatalf("unexpected AuditFields output: %s %s %s %f", vhostID, endpointID, verdict, score)
	}
}
