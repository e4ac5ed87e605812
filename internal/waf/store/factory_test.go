package store

import (
	"testing"
	"time"
)

func TestBuildConfigClient_DefaultRequiresAddr(t *testing.T) {
	if _, err := BuildConfigClient("", Options{}); err == nil {
		t.Fatal("expected error when RedisAddr is empty")
	}
}

func TestBuildConfigClient_Redis(t *testing.T) {
	c, err := BuildConfigClient("redis", Options{RedisAddr: "127.0.0.1:0"})
	if err != nil || c == nil {
		t.Fatalf("unexpected: %v %v", c, err)
	}
}

func TestBuildConfigClient_Mock(t *testing.T) {
	c, err := BuildConfigClient("mock", Options{})
	if err != nil || c == nil {
		t.Fatalf("unexpected: %v %v", c, err)
	}
}

func TestBuildConfigClient_Unknown(t *testing.T) {
	if _, err := BuildConfigClient("does-not-exist", Options{}); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}

func TestBuildDeltaFlusher_DefaultMock(t *testing.T) {
	f, err := BuildDeltaFlusher("", Options{RedisMarkerTTL: time.Hour})
	if err != nil || f == nil {
		t.Fatalf("unexpected: %v %v", f, err)
	}
}

func TestBuildDeltaFlusher_PostgresRequiresDB(t *testing.T) {
	if _, err := BuildDeltaFlusher("postgres", Options{}); err == nil {
		t.Fatal("expected error when PostgresDB is nil")
	}
}

func TestBuildDeltaFlusher_Mock(t *testing.T) {
	f, err := BuildDeltaFlusher("mock", Options{})
	if err != nil || f == nil {
		t.Fatalf("unexpected: %v %v", f, err)
	}
}

func TestBuildDeltaFlusher_Unknown(t *testing.T) {
	if _, err := BuildDeltaFlusher("does-not-exist", Options{}); err == nil {
		t.Fatal("expected error for unknown adapter")
	}
}
