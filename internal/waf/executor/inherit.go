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
	"encoding/json"
	"fmt"
)

// maxInheritanceDepth is the §4.G.4 depth limit.
const maxInheritanceDepth = 3

// ProfileLoader loads a profile by id, e.g. from the hot cache's Profiles
// map. It must return the raw (un-resolved) profile — resolution of its own
// extends chain happens recursively inside ResolveInheritance.
type ProfileLoader func(id string) (*Profile, error)

// ResolveInheritance flattens a profile's extends chain into a single,
// patch-applied Profile, per §4.G.4 and the OQ3 decision (SPEC_FULL.md Part
// E #3): all `remove` patches are applied first, producing a pruned parent
// node list, and only then are insert_after/insert_before/merge/append
// patches applied against indices in that pruned list.
func ResolveInheritance(load ProfileLoader, p *Profile, depth int) (*Profile, error) {
	if p.Extends == "" {
		return p, nil
	}
	if depth >= maxInheritanceDepth {
		return nil, fmt.Errorf("executor: inheritance depth exceeds %d resolving %q", maxInheritanceDepth, p.ID)
	}

	parent, err := load(p.Extends)
	if err != nil {
		return nil, fmt.Errorf("executor: loading parent %q for %q: %w", p.Extends, p.ID, err)
	}
	parent, err = ResolveInheritance(load, parent, depth+1)
	if err != nil {
		return nil, err
	}

	merged, err := applyPatches(parent, p)
	if err != nil {
		return nil, err
	}
	merged.ID = p.ID
	merged.Extends = ""
	if p.Settings != (Settings{}) {
		merged.Settings = p.Settings
	}
	return merged, nil
}

// applyPatches implements the two-pass OQ3 algorithm.
func applyPatches(parent, child *Profile) (*Profile, error) {
	removed := map[string]bool{}
	for _, n := range child.Nodes {
		if n.Remove {
			removed[n.ID] = true
		}
	}

	pruned := make([]Node, 0, len(parent.Nodes))
	for _, n := range parent.Nodes {
		if !removed[n.ID] {
			pruned = append(pruned, n)
		}
	}

	indexByID := make(map[string]int, len(pruned))
	for i, n := range pruned {
		indexByID[n.ID] = i
	}

	for _, patch := range child.Nodes {
		switch {
		case patch.Remove:
			continue // already applied in the prune pass

		case patch.InsertAfter != "":
			if removed[patch.InsertAfter] {
				return nil, fmt.Errorf("executor: insert_after target %q was removed in the same patch set", patch.InsertAfter)
			}
			at, ok := indexByID[patch.InsertAfter]
			if !ok {
				return nil, fmt.Errorf("executor: insert_after references unknown node %q", patch.InsertAfter)
			}
			pruned = insertNodeAt(pruned, at+1, stripDirectives(patch))
			reindex(pruned, indexByID)

		case patch.InsertBefore != "":
			if removed[patch.InsertBefore] {
				return nil, fmt.Errorf("executor: insert_before target %q was removed in the same patch set", patch.InsertBefore)
			}
			at, ok := indexByID[patch.InsertBefore]
			if !ok {
				return nil, fmt.Errorf("executor: insert_before references unknown node %q", patch.InsertBefore)
			}
			pruned = insertNodeAt(pruned, at, stripDirectives(patch))
			reindex(pruned, indexByID)

		default:
			if at, ok := indexByID[patch.ID]; ok {
				pruned[at] = mergeNode(pruned[at], patch)
			} else {
				pruned = append(pruned, stripDirectives(patch))
				indexByID[patch.ID] = len(pruned) - 1
			}
		}
	}

	return &Profile{ID: child.ID, Extends: child.Extends, Nodes: pruned, Settings: parent.Settings}, nil
}

func insertNodeAt(nodes []Node, at int, n Node) []Node {
	if at < 0 {
		at = 0
	}
	if at > len(nodes) {
		at = len(nodes)
	}
	out := make([]Node, 0, len(nodes)+1)
	out = append(out, nodes[:at]...)
	out = append(out, n)
	out = append(out, nodes[at:]...)
	return out
}

func reindex(nodes []Node, indexByID map[string]int) {
	for k := range indexByID {
		delete(indexByID, k)
	}
	for i, n := range nodes {
		indexByID[n.ID] = i
	}
}

func stripDirectives(n Node) Node {
	n.Remove = false
	n.InsertAfter = ""
	n.InsertBefore = ""
	return n
}

// mergeNode overlays a patch node's non-zero fields onto the parent node
// with the matching id (§4.G.4's "merge child fields over parent's").
func mergeNode(base, patch Node) Node {
	out := base
	if patch.Type != "" {
		out.Type = patch.Type
	}
	if patch.Name != "" {
		out.Name = patch.Name
	}
	if patch.Config != nil {
		cfg := make(map[string]json.RawMessage, len(base.Config)+len(patch.Config))
		for k, v := range base.Config {
			cfg[k] = v
		}
		for k, v := range patch.Config {
			cfg[k] = v
		}
		out.Config = cfg
	}
	if patch.Inputs != nil {
		out.Inputs = patch.Inputs
	}
	if patch.Outputs != nil {
		// out still aliases base.Outputs's underlying map (out := base is a
		// shallow copy) — clone before writing so patching a cached parent
		// node never mutates it in place.
		outputs := make(map[string]string, len(base.Outputs)+len(patch.Outputs))
		for k, v := range base.Outputs {
			outputs[k] = v
		}
		for k, v := range patch.Outputs {
			outputs[k] = v
		}
		out.Outputs = outputs
	}
	return out
}
