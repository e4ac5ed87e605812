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
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultIterationCeiling    = 100
	defaultMaxExecutionTimeMS  = 100
)

// Decision is the executor's final verdict for one request (§4.G.5, §4.G.7).
type Decision struct {
	FinalAction       ActionKind
	Score             int
	Flags             []string
	Details           map[string]interface{}
	BlockReason       string
	WouldBlockReasons []string
	TarpitDelayMS     int
	TarpitThen        ActionKind
	ExecutionSlowMS   int64
	ExecutionSlow     bool
	ProfileError      string
}

// Executor runs defense-profile graphs against resolved request contexts.
type Executor struct {
	Defense     *Registry
	Observation *Registry
}

// NewExecutor wires the two handler registries. Both must be populated by
// internal/waf/defenses before the first Run.
func NewExecutor(defense, observation *Registry) *Executor {
	return &Executor{Defense: defense, Observation: observation}
}

// runState accumulates execution results while walking a graph. Separated
// from Executor so Run is safe to call concurrently for independent requests
// (§5: one executor instance is shared across a worker's requests).
type runState struct {
	mu          sync.Mutex
	nodeResults map[string]NodeResult
	score       int
	flagSet     map[string]struct{}
	details     map[string]interface{}
}

func newRunState() *runState {
	return &runState{
		nodeResults: map[string]NodeResult{},
		flagSet:     map[string]struct{}{},
		details:     map[string]interface{}{},
	}
}

func (s *runState) addFlags(flags []string) {
	for _, f := range flags {
		s.flagSet[f] = struct{}{}
	}
}

func (s *runState) flagsSlice() []string {
	out := make([]string, 0, len(s.flagSet))
	for f := range s.flagSet {
		out = append(out, f)
	}
	return out
}

func (s *runState) mergeDetails(d map[string]interface{}) {
	for k, v := range d {
		s.details[k] = v
	}
}

// Run walks graph starting at its start node, per §4.G.5. rc.Effective must
// already carry the resolved mode/thresholds from the resolver (§4.F).
func (e *Executor) Run(ctx context.Context, graph *Graph, rc *RequestContext) Decision {
	start := time.Now()
	s := newRunState()
	isMonitoring := !rc.Effective.ShouldBlock()

	settings := graph.Profile.Settings
	iterationCap := settings.IterationCap
	if iterationCap <= 0 {
		iterationCap = defaultIterationCeiling
	}
	maxExecMS := settings.MaxExecutionTimeMS
	if maxExecMS <= 0 {
		maxExecMS = defaultMaxExecutionTimeMS
	}

	var finalAction ActionKind
	var blockReason string
	var wouldBlockReasons []string
	var tarpitDelay int
	var tarpitThen ActionKind

	current := graph.Start
	visited := 0

	for current != "" && visited < iterationCap {
		visited++
		node, ok := graph.Nodes[current]
		if !ok {
			break // unreachable next node (§4.G.5 termination rule)
		}

		if node.Type == NodeAction {
			act := ActionKind(node.Name)
			if act == ActionFlag {
				res := e.execNode(ctx, graph, rc, s, current)
				s.addFlags([]string{"flag"})
				_ = res
				current = pickOutput(node, "next", "continue")
				continue
			}
			finalActionCandidate := act
			if act == ActionAllow && isMonitoring && finalAction == ActionBlock {
				// §4.G.5 step 6: allow must not overwrite a latched block in
				// monitoring mode.
				break
			}
			finalAction = finalActionCandidate
			if act == ActionTarpit {
				tarpitDelay = parseTarpitDelay(node.Config)
				tarpitThen = parseTarpitThen(node.Config)
			}
			break
		}

		result := e.execNode(ctx, graph, rc, s, current)

		if result.Blocked {
			wouldBlockReasons = append(wouldBlockReasons, result.BlockReason)
			if isMonitoring {
				s.addFlags([]string{"would_block:" + result.BlockReason})
				if finalAction == "" {
					finalAction = ActionBlock
					blockReason = result.BlockReason
				}
				current = pickOutput(node, "continue")
				continue
			}
			if target, ok := node.Outputs["blocked"]; ok && target != "" {
				current = target
				continue
			}
			finalAction = ActionBlock
			blockReason = result.BlockReason
			break
		}

		if result.Allowed {
			if target, ok := node.Outputs["allowed"]; ok && target != "" {
				current = target
				continue
			}
			if !(isMonitoring && finalAction == ActionBlock) {
				finalAction = ActionAllow
			}
			break
		}

		if result.Branch != "" {
			isOpThresholdDefault := node.Type == NodeOperator && OperatorKind(node.Name) == OpThresholdBranch
			target, exists := node.Outputs[result.Branch]
			switch {
			case exists && target != "":
				current = target
			case result.Branch == "continue" && isOpThresholdDefault:
				current = pickOutput(node, "next", "continue")
			default:
				current = result.Branch // §4.G.5 step 5: treat branch as the target id directly
			}
			continue
		}

		if result.Result != nil {
			key := "false"
			if *result.Result {
				key = "true"
			}
			if target, ok := node.Outputs[key]; ok && target != "" {
				current = target
				continue
			}
			current = pickOutput(node, "next", "continue")
			continue
		}

		current = pickOutput(node, "next", "continue")
	}

	if finalAction == "" {
		finalAction = defaultActionOf(graph.Profile.Settings.DefaultAction)
	}

	elapsed := time.Since(start)
	d := Decision{
		FinalAction:       finalAction,
		Score:             s.score,
		Flags:             s.flagsSlice(),
		Details:           s.details,
		BlockReason:       blockReason,
		WouldBlockReasons: wouldBlockReasons,
		TarpitDelayMS:     tarpitDelay,
		TarpitThen:        tarpitThen,
		ExecutionSlowMS:   elapsed.Milliseconds(),
	}
	if elapsed > time.Duration(maxExecMS)*time.Millisecond {
		d.ExecutionSlow = true
		d.Flags = append(d.Flags, "execution_slow")
	}
	return d
}

// execNode returns the cached result for id if present, otherwise dispatches
// it (operator nodes pull their inputs first, possibly executing siblings
// that the main traversal never reached — §4.G.2's "non-predecessor inputs").
func (e *Executor) execNode(ctx context.Context, graph *Graph, rc *RequestContext, s *runState, id string) NodeResult {
	s.mu.Lock()
	if cached, ok := s.nodeResults[id]; ok {
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	node := graph.Nodes[id]
	var result NodeResult

	switch node.Type {
	case NodeStart:
		result = NodeResult{}
	case NodeOperator:
		result = e.runOperatorPull(ctx, graph, rc, s, node)
	case NodeDefense, NodeObservation:
		result = e.dispatch(ctx, rc, node)
	case NodeAction:
		result = NodeResult{} // actions are handled by the main loop, not pulled
	default:
		result = NodeResult{Flags: []string{"skipped"}}
	}

	s.mu.Lock()
	s.nodeResults[id] = result
	if node.Type == NodeDefense {
		s.score += result.Score
		s.addFlags(result.Flags)
		s.mergeDetails(result.Details)
	}
	s.mu.Unlock()
	return result
}

// runOperatorPull resolves an operator's inputs, executing any that the main
// traversal has not yet reached (§4.G.6: parallel spawn when more than one
// input becomes ready at once).
func (e *Executor) runOperatorPull(ctx context.Context, graph *Graph, rc *RequestContext, s *runState, node Node) NodeResult {
	ids := graph.inputsFor(node.ID)

	var missing []string
	for _, id := range ids {
		s.mu.Lock()
		_, ok := s.nodeResults[id]
		s.mu.Unlock()
		if !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) == 1 {
		e.execNode(ctx, graph, rc, s, missing[0])
	} else if len(missing) > 1 {
		// §4.G.6: more than one ready node at the same depth — spawn one
		// cooperative task per node and wait for all. Handlers never return
		// a Go error (dispatch recovers into a neutral NodeResult), so this
		// is errgroup used purely as a structured wait, not for
		// cancellation.
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range missing {
			id := id
			g.Go(func() error {
				e.execNode(gctx, graph, rc, s, id)
				return nil
			})
		}
		_ = g.Wait()
	}

	inputs := make([]NodeResult, 0, len(ids))
	s.mu.Lock()
	for _, id := range ids {
		inputs = append(inputs, s.nodeResults[id])
	}
	s.mu.Unlock()

	return runOperator(OperatorKind(node.Name), node.Config, inputs)
}

// dispatch invokes a registered defense/observation handler, converting a
// missing registration or a handler panic into a neutral result per §4.G.7.
func (e *Executor) dispatch(ctx context.Context, rc *RequestContext, node Node) (result NodeResult) {
	registry := e.Observation
	if node.Type == NodeDefense {
		registry = e.Defense
	}
	handler, ok := registry.Lookup(node.Name)
	if !ok {
		return NodeResult{Flags: []string{"not_registered"}}
	}

	defer func() {
		if r := recover(); r != nil {
			result = NodeResult{
				Flags:   []string{"defense_error:" + node.Name},
				Details: map[string]interface{}{"error": fmt.Sprintf("%v", r)},
			}
		}
	}()
	return handler(ctx, rc, node.Config)
}

func pickOutput(node Node, keys ...string) string {
	for _, k := range keys {
		if v, ok := node.Outputs[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func defaultActionOf(raw string) ActionKind {
	if raw == "" {
		return ActionAllow
	}
	return ActionKind(raw)
}
