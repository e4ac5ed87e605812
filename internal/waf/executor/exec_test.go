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
	"testing"

	"formwaf/internal/waf/config"
)

func mustGraph(t *testing.T, raw string) *Graph {
	t.Helper()
	p, err := ParseProfile([]byte(raw))
	if err != nil {
		t.Fatalf("parse profile: %v", err)
	}
	g, err := BuildGraph(p)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func blockingRC() *RequestContext {
	return &RequestContext{Effective: config.EffectiveContext{Mode: config.ModeBlocking}}
}

func monitoringRC() *RequestContext {
	return &RequestContext{Effective: config.EffectiveContext{Mode: config.ModeMonitoring}}
}

func TestExecutorLinearBlock(t *testing.T) {
	g := mustGraph(t, `{
		"id": "p1",
		"nodes": [
			{"id": "s", "type": "start", "outputs": {"next": "kw"}},
			{"id": "kw", "type": "defense", "name": "always_block", "outputs": {"blocked": "blk"}},
			{"id": "blk", "type": "action", "name": "block"},
			{"id": "allow", "type": "action", "name": "allow"}
		]
	}`)
	defenses := NewRegistry()
	defenses.Register("always_block", func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult {
		return BlockedResult("kw_match", []string{"kw"}, nil)
	})
	e := NewExecutor(defenses, NewRegistry())
	d := e.Run(context.Background(), g, blockingRC())
	if d.FinalAction != ActionBlock || d.BlockReason != "kw_match" {
		t.Fatalf("expected block, got %+v", d)
	}
}

func TestExecutorMonitoringModeDoesNotBlock(t *testing.T) {
	g := mustGraph(t, `{
		"id": "p1",
		"nodes": [
			{"id": "s", "type": "start", "outputs": {"next": "kw"}},
			{"id": "kw", "type": "defense", "name": "always_block", "outputs": {"continue": "allow", "blocked": "blk"}},
			{"id": "blk", "type": "action", "name": "block"},
			{"id": "allow", "type": "action", "name": "allow"}
		]
	}`)
	defenses := NewRegistry()
	defenses.Register("always_block", func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult {
		return BlockedResult("kw_match", nil, nil)
	})
	e := NewExecutor(defenses, NewRegistry())
	d := e.Run(context.Background(), g, monitoringRC())
	// §4.G.5 step 6: "allow" must not overwrite a latched block in monitoring mode.
	if d.FinalAction != ActionBlock {
		t.Fatalf("expected latched block action even though allow ran, got %+v", d)
	}
	found := false
	for _, f := range d.Flags {
		if f == "would_block:kw_match" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected would_block flag, got %v", d.Flags)
	}
}

func TestExecutorSumOperatorNoDoubleCount(t *testing.T) {
	g := mustGraph(t, `{
		"id": "p1",
		"nodes": [
			{"id": "s", "type": "start", "outputs": {"next": "d1"}},
			{"id": "d1", "type": "defense", "name": "score10", "outputs": {"continue": "sum"}},
			{"id": "sum", "type": "operator", "name": "sum", "inputs": ["d1", "d2"], "outputs": {"continue": "thresh"}},
			{"id": "d2", "type": "defense", "name": "score5"},
			{"id": "thresh", "type": "operator", "name": "threshold_branch", "config": {"ranges": [{"min": 0, "max": 20, "output": "low"}, {"min": 20, "output": "high"}]}, "outputs": {"low": "allow", "high": "blk"}},
			{"id": "blk", "type": "action", "name": "block"},
			{"id": "allow", "type": "action", "name": "allow"}
		]
	}`)
	defenses := NewRegistry()
	defenses.Register("score10", func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult {
		return ScoreResult(10, nil, nil)
	})
	defenses.Register("score5", func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult {
		return ScoreResult(5, nil, nil)
	})
	e := NewExecutor(defenses, NewRegistry())
	d := e.Run(context.Background(), g, blockingRC())
	// d1 contributes 10 once (as a defense) even though the sum operator also
	// reads it from cache; d2 is pulled in by sum's explicit inputs.
	if d.Score != 15 {
		t.Fatalf("expected score 15 (10+5, no double count), got %d", d.Score)
	}
	if d.FinalAction != ActionAllow {
		t.Fatalf("expected allow (score 15 < 20 threshold), got %+v", d)
	}
}

func TestExecutorUnregisteredDefenseIsNeutral(t *testing.T) {
	g := mustGraph(t, `{
		"id": "p1",
		"nodes": [
			{"id": "s", "type": "start", "outputs": {"next": "kw"}},
			{"id": "kw", "type": "defense", "name": "missing_handler", "outputs": {"continue": "allow"}},
			{"id": "allow", "type": "action", "name": "allow"}
		]
	}`)
	e := NewExecutor(NewRegistry(), NewRegistry())
	d := e.Run(context.Background(), g, blockingRC())
	if d.FinalAction != ActionAllow {
		t.Fatalf("expected allow, got %+v", d)
	}
	found := false
	for _, f := range d.Flags {
		if f == "not_registered" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected not_registered flag, got %v", d.Flags)
	}
}

func TestExecutorHandlerPanicIsNeutral(t *testing.T) {
	g := mustGraph(t, `{
		"id": "p1",
		"nodes": [
			{"id": "s", "type": "start", "outputs": {"next": "kw"}},
			{"id": "kw", "type": "defense", "name": "boom", "outputs": {"continue": "allow"}},
			{"id": "allow", "type": "action", "name": "allow"}
		]
	}`)
	defenses := NewRegistry()
	defenses.Register("boom", func(ctx context.Context, rc *RequestContext, cfg map[string]json.RawMessage) NodeResult {
		panic("kaboom")
	})
	e := NewExecutor(defenses, NewRegistry())
	d := e.Run(context.Background(), g, blockingRC())
	if d.FinalAction != ActionAllow {
		t.Fatalf("expected allow despite handler panic, got %+v", d)
	}
	found := false
	for _, f := range d.Flags {
		if f == "defense_error:boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected defense_error flag, got %v", d.Flags)
	}
}

func TestBuildGraphRejectsProfileWithoutStartOrAction(t *testing.T) {
	_, err := ParseProfile([]byte(`{"id": "p1", "nodes": [{"id": "only", "type": "defense", "name": "x"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := &Profile{ID: "p1", Nodes: []Node{{ID: "only", Type: NodeDefense, Name: "x"}}}
	_, err = BuildGraph(p)
	if err == nil {
		t.Fatal("expected graph build to fail: no start node, no action node")
	}
}

func TestResolveInheritanceRemoveThenInsert(t *testing.T) {
	parent := &Profile{ID: "base", Nodes: []Node{
		{ID: "a", Type: NodeDefense, Name: "a"},
		{ID: "b", Type: NodeDefense, Name: "b"},
		{ID: "c", Type: NodeAction, Name: "allow"},
	}}
	child := &Profile{ID: "child", Extends: "base", Nodes: []Node{
		{ID: "b", Remove: true},
		{ID: "d", Type: NodeDefense, Name: "d", InsertAfter: "a"},
	}}
	loader := func(id string) (*Profile, error) { return parent, nil }
	merged, err := ResolveInheritance(loader, child, 0)
	if err != nil {
		t.Fatalf("resolve inheritance: %v", err)
	}
	ids := make([]string, len(merged.Nodes))
	for i, n := range merged.Nodes {
		ids[i] = n.ID
	}
	want := []string{"a", "d", "c"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestResolveInheritanceInsertAfterRemovedIsError(t *testing.T) {
	parent := &Profile{ID: "base", Nodes: []Node{
		{ID: "a", Type: NodeDefense, Name: "a"},
		{ID: "c", Type: NodeAction, Name: "allow"},
	}}
	child := &Profile{ID: "child", Extends: "base", Nodes: []Node{
		{ID: "a", Remove: true},
		{ID: "d", Type: NodeDefense, Name: "d", InsertAfter: "a"},
	}}
	loader := func(id string) (*Profile, error) { return parent, nil }
	_, err := ResolveInheritance(loader, child, 0)
	if err == nil {
		t.Fatal("expected error: insert_after target removed in same patch set")
	}
}
