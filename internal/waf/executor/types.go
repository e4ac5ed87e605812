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

// Package executor is the Defense Profile Executor (§4.G): it parses and
// validates defense-profile DAGs, resolves "extends" inheritance, executes
// nodes with opportunistic parallel fan-out, aggregates scores, and
// produces a final verdict. Node results are cached by id so operators
// never re-derive a defense's contribution (§8 P6 — no double counting).
//
// The graph is kept as id -> Node tables plus adjacency maps, not a
// pointer graph, per §9's "Cyclic / graph structures" design note.
package executor

import "encoding/json"

// NodeType is the node-variant discriminator from §3's Defense Profile
// data model.
type NodeType string

const (
	NodeStart       NodeType = "start"
	NodeDefense     NodeType = "defense"
	NodeObservation NodeType = "observation"
	NodeOperator    NodeType = "operator"
	NodeAction      NodeType = "action"
)

// OperatorKind names the six built-in operators (§4.G.2).
type OperatorKind string

const (
	OpSum             OperatorKind = "sum"
	OpMax             OperatorKind = "max"
	OpMin             OperatorKind = "min"
	OpAnd             OperatorKind = "and"
	OpOr              OperatorKind = "or"
	OpThresholdBranch OperatorKind = "threshold_branch"
)

// ActionKind names the terminal/non-terminal action variants (§3).
type ActionKind string

const (
	ActionAllow   ActionKind = "allow"
	ActionBlock   ActionKind = "block"
	ActionTarpit  ActionKind = "tarpit"
	ActionCaptcha ActionKind = "captcha"
	ActionMonitor ActionKind = "monitor"
	ActionFlag    ActionKind = "flag" // non-terminal
)

// ThresholdRange is one entry of a threshold_branch operator's range table
// (§4.G.2). Max == nil means unbounded.
type ThresholdRange struct {
	Min    int64  `json:"min"`
	Max    *int64 `json:"max,omitempty"`
	Output string `json:"output"`
}

// Node is one vertex of a defense-profile DAG, per §3.
type Node struct {
	ID      string                     `json:"id"`
	Type    NodeType                   `json:"type"`
	Name    string                     `json:"name,omitempty"` // defense/observation/operator-variant/action name
	Config  map[string]json.RawMessage `json:"config,omitempty"`
	Inputs  []string                   `json:"inputs,omitempty"`
	Outputs map[string]string          `json:"outputs,omitempty"`

	// Inheritance patch directives (§4.G.4). Zero value means "not a patch".
	Remove      bool   `json:"remove,omitempty"`
	InsertAfter string `json:"insert_after,omitempty"`
	InsertBefore string `json:"insert_before,omitempty"`
}

// Settings are profile-level execution knobs (§4.G.5).
type Settings struct {
	DefaultAction      string `json:"default_action,omitempty"`
	MaxExecutionTimeMS int64  `json:"max_execution_time_ms,omitempty"`
	IterationCap       int    `json:"iteration_cap,omitempty"`
}

// Profile is a named DAG of nodes, optionally extending a parent (§3, §4.G.4).
type Profile struct {
	ID       string   `json:"id"`
	Extends  string   `json:"extends,omitempty"`
	Nodes    []Node   `json:"nodes"`
	Settings Settings `json:"settings,omitempty"`
}

// ParseProfile decodes a raw profile JSON document.
func ParseProfile(raw []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// NodeResult is the canonical per-node output shape (§3).
type NodeResult struct {
	Score       int
	Blocked     bool
	Allowed     bool
	Flags       []string
	Details     map[string]interface{}
	BlockReason string
	AllowReason string
	Branch      string
	Result      *bool // set by and/or operators
}

// ScoreResult constructs a plain scored result (no block/allow verdict).
func ScoreResult(score int, flags []string, details map[string]interface{}) NodeResult {
	return NodeResult{Score: score, Flags: flags, Details: details}
}

// BlockedResult constructs a blocking verdict.
func BlockedResult(reason string, flags []string, details map[string]interface{}) NodeResult {
	return NodeResult{Blocked: true, BlockReason: reason, Flags: flags, Details: details}
}

// AllowedResult constructs an allowing verdict.
func AllowedResult(reason string, flags []string, details map[string]interface{}) NodeResult {
	return NodeResult{Allowed: true, AllowReason: reason, Flags: flags, Details: details}
}

// Truthy reports whether a result counts as "true" for and/or aggregation
// per §4.G.2: blocked OR allowed OR score > 0.
func (r NodeResult) Truthy() bool {
	return r.Blocked || r.Allowed || r.Score > 0
}
