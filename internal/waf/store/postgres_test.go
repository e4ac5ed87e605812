package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"
)

// Minimal fake SQL driver to exercise PostgresFlusher/ChallengeStore
// transaction and Exec paths without a live Postgres instance.

type fakeDB struct {
	execs         []string
	failBegin     error
	failCommit    error
	failExecAt    map[int]error
	commitCount   int
	rollbackCount int
}

type fakeDriver struct{}
type fakeConn struct{ db *fakeDB }
type fakeTx struct {
	db     *fakeDB
	closed bool
}
type fakeResult int

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

func (fakeDriver) Open(name string) (driver.Conn, error) { return &fakeConn{db: testFakeDB}, nil }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not supported")
}
func (c *fakeConn) Close() error { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}
func (c *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.db.failBegin != nil {
		return nil, c.db.failBegin
	}
	return &fakeTx{db: c.db}, nil
}
func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.execs = append(c.db.execs, query)
	idx := len(c.db.execs)
	if c.db.failExecAt != nil {
		if err, ok := c.db.failExecAt[idx]; ok {
			return nil, err
		}
	}
	return fakeResult(1), nil
}

func (t *fakeTx) Commit() error {
	if t.closed {
		return errors.New("already closed")
	}
	t.db.commitCount++
	t.closed = true
	return t.db.failCommit
}
func (t *fakeTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.db.rollbackCount++
	t.closed = true
	return nil
}

var testFakeDB *fakeDB
var fakeDriverRegistered bool

func newSQLDBWithFake(db *fakeDB) *sql.DB {
	testFakeDB = db
	if !fakeDriverRegistered {
		sql.Register("wafFakeSQL", fakeDriver{})
		fakeDriverRegistered = true
	}
	d, _ := sql.Open("wafFakeSQL", "")
	return d
}

func TestPostgresFlusher_Empty(t *testing.T) {
	db := newSQLDBWithFake(&fakeDB{})
	p := NewPostgresFlusher(db, false)
	if err := p.CommitBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestPostgresFlusher_MissingCommitID_RollsBack(t *testing.T) {
	f := &fakeDB{}
	db := newSQLDBWithFake(f)
	p := NewPostgresFlusher(db, false)
	err := p.CommitBatch(context.Background(), []AccumulatorDelta{{Key: "a"}})
	if err == nil || !strings.Contains(err.Error(), "CommitID must be set") {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.rollbackCount != 1 || f.commitCount != 0 {
		t.Fatalf("expected rollback only, got c=%d r=%d", f.commitCount, f.rollbackCount)
	}
}

func TestPostgresFlusher_CreateMissingKeys_AndApply(t *testing.T) {
	f := &fakeDB{}
	db := newSQLDBWithFake(f)
	p := NewPostgresFlusher(db, true)
	deltas := []AccumulatorDelta{{Key: "k1", Vector: 5, CommitID: "c1"}, {Key: "k2", Vector: -2, CommitID: "c2"}}
	if err := p.CommitBatch(context.Background(), deltas); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if f.commitCount != 1 || f.rollbackCount != 0 {
		t.Fatalf("commit/rollback mismatch: %d/%d", f.commitCount, f.rollbackCount)
	}
	var hasInsertCounter, hasApplied, hasUpdate bool
	for _, q := range f.execs {
		if strings.Contains(q, "INSERT INTO waf_counters") {
			hasInsertCounter = true
		}
		if strings.Contains(q, "INSERT INTO waf_applied_commits") {
			hasApplied = true
		}
		if strings.Contains(q, "UPDATE waf_counters SET scalar") {
			hasUpdate = true
		}
	}
	if !hasInsertCounter || !hasApplied || !hasUpdate {
		t.Fatalf("expected all three query kinds, got: %v", f.execs)
	}
}

func TestPostgresFlusher_ExecError_Rollback(t *testing.T) {
	f := &fakeDB{failExecAt: map[int]error{1: errors.New("boom")}}
	db := newSQLDBWithFake(f)
	p := NewPostgresFlusher(db, true)
	err := p.CommitBatch(context.Background(), []AccumulatorDelta{{Key: "k", Vector: 1, CommitID: "c"}})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("unexpected err: %v", err)
	}
	if f.rollbackCount != 1 || f.commitCount != 0 {
		t.Fatalf("expected rollback only, got c=%d r=%d", f.commitCount, f.rollbackCount)
	}
}

func TestChallengeStore_IssueAndMarkSolved(t *testing.T) {
	f := &fakeDB{}
	db := newSQLDBWithFake(f)
	cs := NewChallengeStore(db)
	rec := ChallengeRecord{
		Token: "tok-1", VhostID: "v1", EndpointID: "e1",
		ClientIP: "1.2.3.4", IssuedAt: time.Now(), Provider: "recaptcha",
	}
	if err := cs.Issue(context.Background(), rec); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := cs.MarkSolved(context.Background(), rec.Token, time.Now()); err != nil {
		t.Fatalf("mark solved: %v", err)
	}
	var hasInsert, hasUpdate bool
	for _, q := range f.execs {
		if strings.Contains(q, "INSERT INTO waf_captcha_challenges") {
			hasInsert = true
		}
		if strings.Contains(q, "UPDATE waf_captcha_challenges SET solved_at") {
			hasUpdate = true
		}
	}
	if !hasInsert || !hasUpdate {
		t.Fatalf("expected insert and update, got: %v", f.execs)
	}
}

type fakeAuditEvent struct {
	VhostID, EndpointID, Verdict string
	Score                        float64
}

func (e fakeAuditEvent) AuditFields() (string, string, string, float64) {
	return e.VhostID, e.EndpointID, e.Verdict, e.Score
}

func TestPostgresAuditSink_Publish_InsertsIndexedFields(t *testing.T) {
	f := &fakeDB{}
	db := newSQLDBWithFake(f)
	sink := NewPostgresAuditSink(db)

	ev := fakeAuditEvent{VhostID: "v1", EndpointID: "e1", Verdict: "block", Score: 90}
	if err := sink.Publish(context.Background(), "evt-1", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(f.execs) != 1 || !strings.Contains(f.execs[0], "INSERT INTO waf_audit_events") {
		t.Fatalf("expected one waf_audit_events insert, got: %v", f.execs)
	}
}

func TestPostgresAuditSink_Publish_PlainValueWithoutFieldSource(t *testing.T) {
	f := &fakeDB{}
	db := newSQLDBWithFake(f)
	sink := NewPostgresAuditSink(db)

	if err := sink.Publish(context.Background(), "evt-2", map[string]string{"k": "v"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(f.execs) != 1 {
		t.Fatalf("expected insert even without AuditFields, got: %v", f.execs)
	}
}
