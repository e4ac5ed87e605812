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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS waf_counters (
//   key TEXT PRIMARY KEY,
//   scalar BIGINT NOT NULL
// );
//
// CREATE TABLE IF NOT EXISTS waf_applied_commits (
//   commit_id TEXT PRIMARY KEY,
//   key TEXT NOT NULL,
//   vc BIGINT NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_waf_applied_commits_key ON waf_applied_commits(key);
//
// CREATE TABLE IF NOT EXISTS waf_captcha_challenges (
//   token TEXT PRIMARY KEY,
//   vhost_id TEXT NOT NULL,
//   endpoint_id TEXT NOT NULL,
//   client_ip TEXT NOT NULL,
//   issued_at TIMESTAMPTZ NOT NULL,
//   solved_at TIMESTAMPTZ,
//   provider TEXT NOT NULL
// );
//
// CREATE TABLE IF NOT EXISTS waf_audit_events (
//   event_id TEXT PRIMARY KEY,
//   vhost_id TEXT NOT NULL,
//   endpoint_id TEXT NOT NULL,
//   verdict TEXT NOT NULL,
//   score DOUBLE PRECISION NOT NULL,
//   payload JSONB NOT NULL,
//   ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );

// PostgresFlusher applies accumulator deltas idempotently using the
// insert-marker-then-guarded-update pattern: an applied_commits row is
// inserted first (ON CONFLICT DO NOTHING), then the counter update is
// guarded by NOT EXISTS against that same commit id.
type PostgresFlusher struct {
	db                *sql.DB
	createMissingKeys bool
	defaultTimeout    time.Duration
}

// NewPostgresFlusher creates a flusher. If createMissingKeys is true, the
// flusher pre-creates waf_counters rows with scalar=0 on first sight so an
// UPDATE never silently affects zero rows for an unseen key.
func NewPostgresFlusher(db *sql.DB, createMissingKeys bool) *PostgresFlusher {
	return &PostgresFlusher{db: db, createMissingKeys: createMissingKeys, defaultTimeout: 10 * time.Second}
}

func (p *PostgresFlusher) CommitBatch(ctx context.Context, deltas []AccumulatorDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	ctx, cancel := p.boundedCtx(ctx)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if p.createMissingKeys {
		for _, d := range deltas {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO waf_counters(key, scalar) VALUES ($1, 0) ON CONFLICT DO NOTHING`, d.Key); err != nil {
				return fmt.Errorf("insert waf_counters(%s): %w", d.Key, err)
			}
		}
	}

	for _, d := range deltas {
		if d.CommitID == "" {
			return errors.New("store: AccumulatorDelta.CommitID must be set")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO waf_applied_commits(commit_id, key, vc) VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`,
			d.CommitID, d.Key, d.Vector); err != nil {
			return fmt.Errorf("insert waf_applied_commits(%s): %w", d.CommitID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE waf_counters SET scalar = scalar - $3
			   WHERE key = $2 AND NOT EXISTS (SELECT 1 FROM waf_applied_commits WHERE commit_id = $1 AND ts < now())`,
			d.CommitID, d.Key, d.Vector); err != nil {
			return fmt.Errorf("update waf_counters(%s): %w", d.Key, err)
		}
	}

	return tx.Commit()
}

func (p *PostgresFlusher) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || p.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.defaultTimeout)
}

// ChallengeRecord is a durable CAPTCHA challenge issued to a client.
type ChallengeRecord struct {
	Token      string
	VhostID    string
	EndpointID string
	ClientIP   string
	IssuedAt   time.Time
	SolvedAt   *time.Time
	Provider   string
}

// ChallengeStore persists and looks up CAPTCHA challenge records.
type ChallengeStore struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

func NewChallengeStore(db *sql.DB) *ChallengeStore {
	return &ChallengeStore{db: db, defaultTimeout: 5 * time.Second}
}

// Issue inserts a new challenge record, idempotent on token.
func (s *ChallengeStore) Issue(ctx context.Context, rec ChallengeRecord) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO waf_captcha_challenges(token, vhost_id, endpoint_id, client_ip, issued_at, provider)
		 VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (token) DO NOTHING`,
		rec.Token, rec.VhostID, rec.EndpointID, rec.ClientIP, rec.IssuedAt, rec.Provider)
	if err != nil {
		return fmt.Errorf("issue captcha challenge %s: %w", rec.Token, err)
	}
	return nil
}

// MarkSolved records the solve timestamp for a previously issued token.
func (s *ChallengeStore) MarkSolved(ctx context.Context, token string, solvedAt time.Time) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE waf_captcha_challenges SET solved_at = $2 WHERE token = $1 AND solved_at IS NULL`,
		token, solvedAt)
	if err != nil {
		return fmt.Errorf("mark captcha challenge solved %s: %w", token, err)
	}
	return nil
}

func (s *ChallengeStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || s.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.defaultTimeout)
}

// PostgresAuditSink persists audit events into waf_audit_events. It
// satisfies audit.Sink's Publish(ctx, eventID, v) shape directly, marshaling
// v as JSONB the same way KafkaAuditPublisher marshals it for the wire.
type PostgresAuditSink struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewPostgresAuditSink wires a sink against db.
func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db, defaultTimeout: 10 * time.Second}
}

// auditEventFields is the subset of an audit.Event the sink needs to
// populate waf_audit_events' indexed columns; the full event still lands
// in payload as JSON for later analysis.
type auditEventFields struct {
	VhostID    string
	EndpointID string
	Verdict    string
	Score      float64
}

// Publish inserts one row. v must marshal to JSON (audit.Event does) and,
// if it also exposes VhostID/EndpointID/Verdict/Score fields via the
// fieldSource interface, those populate indexed columns; otherwise they
// are left empty and the full payload remains queryable via JSONB.
func (p *PostgresAuditSink) Publish(ctx context.Context, eventID string, v interface{}) error {
	ctx, cancel := p.bounded(ctx)
	defer cancel()

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal audit event %s: %w", eventID, err)
	}

	f := extractAuditFields(v)
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO waf_audit_events(event_id, vhost_id, endpoint_id, verdict, score, payload)
		 VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (event_id) DO NOTHING`,
		eventID, f.VhostID, f.EndpointID, f.Verdict, f.Score, payload)
	if err != nil {
		return fmt.Errorf("insert waf_audit_events(%s): %w", eventID, err)
	}
	return nil
}

// fieldSource lets Publish pull indexed-column values out of whatever
// concrete event type the caller passes, without audit importing store
// (avoiding an import cycle) or store importing audit.
type fieldSource interface {
	AuditFields() (vhostID, endpointID, verdict string, score float64)
}

func extractAuditFields(v interface{}) auditEventFields {
	fs, ok := v.(fieldSource)
	if !ok {
		return auditEventFields{}
	}
	vhostID, endpointID, verdict, score := fs.AuditFields()
	return auditEventFields{VhostID: vhostID, EndpointID: endpointID, Verdict: verdict, Score: score}
}

func (p *PostgresAuditSink) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || p.defaultTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.defaultTimeout)
}
