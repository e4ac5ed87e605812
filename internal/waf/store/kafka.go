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
	"encoding/json"
	"fmt"
	"time"
)

// KafkaProducer is a minimal abstraction over a Kafka client used for the
// audit event stream. Requirements for a real implementation: idempotent
// producer on (enable.idempotence=true), acks=all, and the audit event id
// used as the message key so broker dedup preserves per-key ordering.
//
// We intentionally avoid importing a specific Kafka library here: no
// concrete client appears anywhere in the retrieved reference pack, so
// operators wire in whichever client fits their cluster.
type KafkaProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// LoggingKafkaProducer is a dependency-free stand-in: it logs the produced
// message instead of publishing it. Not for production use.
type LoggingKafkaProducer struct{}

func (LoggingKafkaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	fmt.Printf("[store-demo] TOPIC=%s KEY=%s VALUE=%s HEADERS=%v\n", topic, string(key), truncate(string(value), 256), headers)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// KafkaAuditPublisher publishes audit events onto a Kafka topic. Unlike
// PostgresFlusher/RedisFlusher, this does not materialize any state itself
// — it's a pluggable sink for internal/waf/audit, which owns event shape.
type KafkaAuditPublisher struct {
	producer       KafkaProducer
	topic          string
	defaultTimeout time.Duration
}

func NewKafkaAuditPublisher(p KafkaProducer, topic string) *KafkaAuditPublisher {
	return &KafkaAuditPublisher{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// Publish marshals v as JSON and produces it keyed by eventID.
func (k *KafkaAuditPublisher) Publish(ctx context.Context, eventID string, v interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal audit event %s: %w", eventID, err)
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := k.producer.Produce(ctx, k.topic, []byte(eventID), b, headers); err != nil {
		return fmt.Errorf("publish audit event %s: %w", eventID, err)
	}
	return nil
}
