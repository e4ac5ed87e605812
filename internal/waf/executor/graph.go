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

import "fmt"

// Graph is the validated, indexed form of a Profile. Graphs are not cached:
// internal/waf/cache's InheritanceLRU holds the resolved Profile, and the
// caller builds a Graph from it on every execution, which is cheap — map
// construction only, no I/O.
type Graph struct {
	Profile *Profile
	Nodes   map[string]Node
	// Preds maps a node id to every node id whose outputs map targets it.
	// This is the default input set an operator aggregates over when it has
	// no explicit Inputs list (§4.G.2, §4.G.3).
	Preds map[string][]string
	Start string
}

// BuildGraph indexes a profile's nodes and validates structural invariants:
// exactly one start node, no duplicate ids, no edges to unknown nodes, at
// least one action node, and no cycles. Returns a graph-construction error
// if any check fails; callers fall back to a profile's configured
// default_action per §4.G.5's "graph validation failure" rule.
func BuildGraph(p *Profile) (*Graph, error) {
	g := &Graph{
		Profile: p,
		Nodes:   make(map[string]Node, len(p.Nodes)),
		Preds:   make(map[string][]string),
	}

	for _, n := range p.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("executor: node with empty id")
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("executor: duplicate node id %q", n.ID)
		}
		g.Nodes[n.ID] = n
		if n.Type == NodeStart {
			if g.Start != "" {
				return nil, fmt.Errorf("executor: multiple start nodes (%q and %q)", g.Start, n.ID)
			}
			g.Start = n.ID
		}
	}
	if g.Start == "" {
		return nil, fmt.Errorf("executor: profile %q has no start node", p.ID)
	}

	hasAction := false
	for _, n := range p.Nodes {
		if n.Type == NodeAction {
			hasAction = true
		}
		for _, target := range n.Outputs {
			if _, ok := g.Nodes[target]; !ok {
				return nil, fmt.Errorf("executor: node %q outputs to unknown node %q", n.ID, target)
			}
			g.Preds[target] = append(g.Preds[target], n.ID)
		}
		for _, in := range n.Inputs {
			if _, ok := g.Nodes[in]; !ok {
				return nil, fmt.Errorf("executor: node %q declares unknown input %q", n.ID, in)
			}
		}
	}
	if !hasAction {
		return nil, fmt.Errorf("executor: profile %q has no action node", p.ID)
	}

	if err := detectCycle(g); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle walks the forward-edge graph (outputs) with the classic
// white/gray/black DFS coloring; a back-edge to a gray node is a cycle.
func detectCycle(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, target := range g.Nodes[id].Outputs {
			switch color[target] {
			case gray:
				return fmt.Errorf("executor: cycle detected through node %q", target)
			case white:
				if err := visit(target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// inputsFor returns the node ids whose results an operator must have
// computed before it can aggregate: its explicit Inputs list if given,
// otherwise its structural predecessors (§4.G.2's "operators that need
// non-predecessor inputs" rule — explicit inputs are the escape hatch for
// nodes that are not direct graph predecessors, e.g. a sibling branch that
// was only reachable by another path).
func (g *Graph) inputsFor(id string) []string {
	n := g.Nodes[id]
	if len(n.Inputs) > 0 {
		return n.Inputs
	}
	return g.Preds[id]
}
