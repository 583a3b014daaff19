package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBudget_NilRedis_FailOpen(t *testing.T) {
	b := NewTokenBudget(nil)
	result, err := b.Check(context.Background(), "10.0.0.1", 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Error("expected allowed when Redis is nil")
	}
	if result.Limit != 1000 {
		t.Errorf("expected limit=1000, got %d", result.Limit)
	}
}

func TestTokenBudget_NilRedis_Record(t *testing.T) {
	b := NewTokenBudget(nil)
	if err := b.Record(context.Background(), "10.0.0.1", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTokenBudget_KeyRollsOverDaily(t *testing.T) {
	b := NewTokenBudget(nil)
	b.now = func() time.Time { return time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC) }
	first := b.key("10.0.0.1")
	b.now = func() time.Time { return time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC) }
	second := b.key("10.0.0.1")

	if first != "assistant:tokens:daily:10.0.0.1:2025-06-01" {
		t.Errorf("unexpected key %q", first)
	}
	if first == second {
		t.Error("expected a new key after midnight UTC")
	}
}
