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

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoggingEval is a dependency-free stand-in for Eval, used when no live
// Redis address is configured. Not for production use.
type LoggingEval struct{}

func (LoggingEval) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[store-demo] EVAL script(len=%d) KEYS=%v ARGS=%v\n", len(script), keys, args)
	return int64(1), nil
}

// RedisFlusher applies accumulator deltas idempotently using a Lua script:
//  1. SETNX commit:<key>:<commit_id> 1
//  2. If set -> HINCRBY counter:<key> scalar -vector
//  3. EXPIRE the marker (TTL) for leak protection
//
// If SETNX fails (already applied), the flush is a no-op. This is the
// durable counterpart to pkg/vsa's in-memory accumulator: when a rate-limit
// or ip-spam-score VSA crosses its commit threshold, the vector is flushed
// here so the budget survives a worker restart.
type RedisFlusher struct {
	client    Eval
	markerTTL time.Duration
}

// NewRedisFlusher returns a flusher with the given client and marker TTL.
func NewRedisFlusher(client Eval, markerTTL time.Duration) *RedisFlusher {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisFlusher{client: client, markerTTL: markerTTL}
}

const redisFlushScript = `
local counterKey = KEYS[1]
local markerKey = KEYS[2]
local vector = tonumber(ARGV[1])
local ttlSeconds = tonumber(ARGV[2])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('HINCRBY', counterKey, 'scalar', -vector)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

func CounterKey(key string) string           { return fmt.Sprintf("waf:counter:%s", key) }
func CommitMarkerKey(key, commitID string) string {
	return fmt.Sprintf("waf:commit:%s:%s", key, commitID)
}

// CommitBatch applies entries using one EVAL per delta, generating a fresh
// idempotency id for any delta missing one.
func (r *RedisFlusher) CommitBatch(ctx context.Context, deltas []AccumulatorDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	for i, d := range deltas {
		if d.CommitID == "" {
			d.CommitID = uuid.NewString()
			deltas[i] = d
		}
		keys := []string{CounterKey(d.Key), CommitMarkerKey(d.Key, d.CommitID)}
		args := []interface{}{d.Vector, int(r.markerTTL.Seconds())}
		if _, err := r.client.Eval(ctx, redisFlushScript, keys, args...); err != nil {
			return fmt.Errorf("redis flush key=%s commit=%s: %w", d.Key, d.CommitID, err)
		}
	}
	return nil
}
