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

	redis "github.com/redis/go-redis/v9"
)

// kvBackend abstracts the handful of Redis read commands the config client
// needs, so tests can swap in a logging/in-memory stand-in without a live
// Redis instance.
type kvBackend interface {
	Keys(ctx context.Context, pattern string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string) (map[string]float64, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

// LoggingKVBackend is a dependency-free stand-in: it returns empty results
// for every read and is only useful for wiring smoke tests where no live
// Redis is available. Not for production use.
type LoggingKVBackend struct{}

func (LoggingKVBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	fmt.Printf("[store-demo] KEYS %s\n", pattern)
	return nil, nil
}

func (LoggingKVBackend) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fmt.Printf("[store-demo] HGETALL %s\n", key)
	return map[string]string{}, nil
}

func (LoggingKVBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	fmt.Printf("[store-demo] SMEMBERS %s\n", key)
	return nil, nil
}

func (LoggingKVBackend) ZRangeWithScores(ctx context.Context, key string) (map[string]float64, error) {
	fmt.Printf("[store-demo] ZRANGE %s WITHSCORES\n", key)
	return map[string]float64{}, nil
}

func (LoggingKVBackend) Get(ctx context.Context, key string) (string, bool, error) {
	fmt.Printf("[store-demo] GET %s\n", key)
	return "", false, nil
}

// GoRedisKV is the production kvBackend, wrapping github.com/redis/go-redis/v9.
type GoRedisKV struct{ c *redis.Client }

// NewGoRedisKV dials a client against addr (e.g. "127.0.0.1:6379"). password
// may be empty for an unauthenticated instance.
func NewGoRedisKV(addr string, db int, password string) *GoRedisKV {
	return &GoRedisKV{c: redis.NewClient(&redis.Options{Addr: addr, DB: db, Password: password})}
}

func (g *GoRedisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	return g.c.Keys(ctx, pattern).Result()
}

func (g *GoRedisKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return g.c.HGetAll(ctx, key).Result()
}

func (g *GoRedisKV) SMembers(ctx context.Context, key string) ([]string, error) {
	return g.c.SMembers(ctx, key).Result()
}

func (g *GoRedisKV) ZRangeWithScores(ctx context.Context, key string) (map[string]float64, error) {
	zs, err := g.c.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out[member] = z.Score
	}
	return out, nil
}

func (g *GoRedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Eval exposes the Lua-scripting surface used by the flush path
// (RedisFlusher); *GoRedisKV implements it by unwrapping go-redis's Eval
// result.
type Eval interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

func (g *GoRedisKV) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}
