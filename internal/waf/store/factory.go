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
	"database/sql"
	"fmt"
	"time"
)

// Options holds the knobs needed to build a ConfigClient or DeltaFlusher
// from a simple string selector, mirroring the teacher's adapter-selector
// pattern so operators can swap backends via a single flag/env var.
type Options struct {
	RedisAddr      string
	RedisDB        int
	RedisPassword  string
	RedisMarkerTTL time.Duration
	PostgresDB     *sql.DB
	KafkaProducer  KafkaProducer
	KafkaTopic     string
}

// BuildConfigClient constructs a ConfigClient for the given selector.
// Supported adapters:
//   - "redis" (default): pulls from a live Redis instance at opts.RedisAddr
//   - "mock": dependency-free demo client, logs every read and returns empty
func BuildConfigClient(adapter string, opts Options) (ConfigClient, error) {
	switch adapter {
	case "", "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("store: redis adapter requires RedisAddr")
		}
		return NewRedisConfigClient(NewGoRedisKV(opts.RedisAddr, opts.RedisDB, opts.RedisPassword)), nil
	case "mock":
		return NewRedisConfigClient(LoggingKVBackend{}), nil
	default:
		return nil, fmt.Errorf("store: unknown config client adapter %q", adapter)
	}
}

// BuildDeltaFlusher constructs a DeltaFlusher for the given selector.
// Supported adapters:
//   - "redis" (default): idempotent INCRBY-based flush
//   - "postgres": idempotent transactional flush, requires opts.PostgresDB
//   - "mock": logging flusher, no external dependency
func BuildDeltaFlusher(adapter string, opts Options) (DeltaFlusher, error) {
	switch adapter {
	case "", "redis":
		ttl := opts.RedisMarkerTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		var ev Eval
		if opts.RedisAddr != "" {
			ev = NewGoRedisKV(opts.RedisAddr, opts.RedisDB, opts.RedisPassword)
		} else {
			ev = LoggingEval{}
		}
		return NewRedisFlusher(ev, ttl), nil
	case "postgres":
		if opts.PostgresDB == nil {
			return nil, fmt.Errorf("store: postgres adapter requires PostgresDB")
		}
		return NewPostgresFlusher(opts.PostgresDB, true), nil
	case "mock":
		return NewRedisFlusher(LoggingEval{}, 24*time.Hour), nil
	default:
		return nil, fmt.Errorf("store: unknown delta flusher adapter %q", adapter)
	}
}
