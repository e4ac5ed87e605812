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

// Package sync is the Sync Coordinator: the single background worker that
// keeps the hot cache current and the in-memory rate accumulators durable.
// It is grounded directly on internal/ratelimiter/core/worker.go's
// ticker+stopChan+WaitGroup+atomic-CAS shutdown guard, generalized from two
// loops (commit, eviction) to two of its own (config pull, accumulator
// flush) plus a one-shot bootstrap pass.
package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"formwaf/internal/waf/cache"
	"formwaf/internal/waf/logging"
	"formwaf/internal/waf/store"
	"formwaf/internal/waf/telemetry"
	"formwaf/pkg/vsa"
)

const component = "sync"

// BucketSource exposes the live rate-limit/spam-score accumulators the
// defenses package owns, so the coordinator can decide, each flush tick,
// which ones have crossed their commit threshold (mirrors core.Store's
// ForEach over managedVSA).
type BucketSource interface {
	Buckets() map[string]*vsa.VSA
}

// Coordinator owns the pull->convert->swap cycle against the hot cache and
// the periodic commit of VSA accumulator deltas to durable storage.
type Coordinator struct {
	client  store.ConfigClient
	cache   *cache.Cache
	seeder  *store.Seeder
	buckets BucketSource
	flusher store.DeltaFlusher

	pullInterval    time.Duration
	flushInterval   time.Duration
	commitThreshold int64

	leader bool // whether this instance runs the once-per-cluster seeding/builtin-profile tasks

	version  int64
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
}

// Option customizes a Coordinator at construction.
type Option func(*Coordinator)

// WithPullInterval overrides the default 30s config-pull tick.
func WithPullInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.pullInterval = d }
}

// WithFlushInterval overrides the default 10s accumulator-flush tick.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.flushInterval = d }
}

// WithCommitThreshold overrides the default |vector| >= 50 flush watermark.
func WithCommitThreshold(n int64) Option {
	return func(c *Coordinator) { c.commitThreshold = n }
}

// WithLeader marks this instance as the one that performs one-shot
// seeding and the builtin-profile version bump, per §4.C's optional
// leader-elected task: in a single-process deployment, or when
// WAF_USE_LEADER_ELECTION is unset, every instance is leader (worker 0
// semantics); a real deployment wires external election and sets this
// false on followers.
func WithLeader(isLeader bool) Option {
	return func(c *Coordinator) { c.leader = isLeader }
}

// New wires a Coordinator. buckets and flusher may be nil to disable the
// accumulator-flush loop (e.g. a read-only demo instance).
func New(client store.ConfigClient, hotCache *cache.Cache, seeder *store.Seeder, buckets BucketSource, flusher store.DeltaFlusher, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:          client,
		cache:           hotCache,
		seeder:          seeder,
		buckets:         buckets,
		flusher:         flusher,
		pullInterval:    30 * time.Second,
		flushInterval:   10 * time.Second,
		commitThreshold: 50,
		leader:          true,
		stopChan:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start seeds defaults (if leader), runs one synchronous pull so the cache
// holds a snapshot when Start returns (if that pull fails, the cache stays
// empty until a later tick succeeds), then launches the background loops.
func (c *Coordinator) Start(ctx context.Context) {
	if c.leader && c.seeder != nil {
		if err := c.seeder.SeedDefaults(ctx); err != nil {
			logging.Warn(component, "one-shot default seeding failed", err)
		}
	}
	c.runPullCycle(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pullLoop(ctx)
	}()

	if c.buckets != nil && c.flusher != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.flushLoop(ctx)
		}()
	}
}

// Stop signals both loops and waits for them to drain, running one final
// flush so in-flight accumulator deltas are not lost on shutdown.
func (c *Coordinator) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	close(c.stopChan)
	c.wg.Wait()
	if c.buckets != nil && c.flusher != nil {
		c.runFlushCycle(context.Background(), true)
	}
}

func (c *Coordinator) pullLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runPullCycle(ctx)
		case <-c.stopChan:
			return
		}
	}
}

// runPullCycle executes one config-pull tick: pull, convert, atomic swap.
// Per §7's recovery boundary, any failure anywhere in the cycle (including
// a handler panic) is caught, WARN-logged, and leaves the previously
// published snapshot authoritative.
func (c *Coordinator) runPullCycle(ctx context.Context) {
	start := time.Now()
	ok := false
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(component, "recovered panic during sync tick", nil)
			ok = false
		}
		telemetry.ObserveSyncTick(ok, time.Since(start))
	}()

	if c.leader && c.seeder != nil {
		if err := c.seeder.SeedBuiltinProfiles(ctx); err != nil {
			logging.Warn(component, "builtin profile seeding failed", err)
		}
	}

	raw, err := c.client.Pull(ctx)
	if err != nil {
		logging.Warn(component, "config pull failed, keeping previous snapshot", err)
		return
	}

	nextVersion := atomic.AddInt64(&c.version, 1)
	snap := cache.Convert(raw, nextVersion)
	c.cache.Put(snap)
	telemetry.SetCacheVersion(nextVersion)
	ok = true
}

func (c *Coordinator) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.runFlushCycle(ctx, false)
		case <-c.stopChan:
			return
		}
	}
}

// runFlushCycle commits any accumulator whose |vector| has crossed
// commitThreshold (or, on final=true, every non-zero accumulator) via the
// configured DeltaFlusher, then advances each VSA's scalar/vector split
// locally once the durable write succeeds — mirroring
// Worker.runCommitCycle/runFinalFlush's two-phase commit-then-advance.
func (c *Coordinator) runFlushCycle(ctx context.Context, final bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(component, "recovered panic during accumulator flush", nil)
		}
	}()

	buckets := c.buckets.Buckets()
	var deltas []store.AccumulatorDelta
	var toCommit []*vsa.VSA
	var vectors []int64

	for key, b := range buckets {
		var shouldCommit bool
		var vector int64
		if final {
			_, vector = b.State()
			shouldCommit = vector != 0
		} else {
			shouldCommit, vector = b.CheckCommit(c.commitThreshold)
		}
		if !shouldCommit {
			continue
		}
		deltas = append(deltas, store.AccumulatorDelta{Key: key, Vector: vector})
		toCommit = append(toCommit, b)
		vectors = append(vectors, vector)
	}

	if len(deltas) == 0 {
		return
	}

	if err := c.flusher.CommitBatch(ctx, deltas); err != nil {
		logging.Warn(component, "accumulator flush failed", err)
		return
	}
	for i, b := range toCommit {
		b.Commit(vectors[i])
	}
}

// Version returns the cache version this coordinator last published.
func (c *Coordinator) Version() int64 {
	return atomic.LoadInt64(&c.version)
}
