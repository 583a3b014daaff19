package ratelimit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLimitKey(t *testing.T) {
	if got := limitKey("rpm:10.0.0.7"); got != "assistant:rl:rpm:10.0.0.7" {
		t.Errorf("limitKey = %q", got)
	}
}

func TestLimiter_WithoutRedis(t *testing.T) {
	tests := []struct {
		name          string
		limit         int64
		wantRemaining int64
	}{
		{"single request window", 1, 0},
		{"default rpm", 30, 29},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimiter(nil)
			before := time.Now()
			for i := 0; i < 3; i++ {
				result, err := l.Check(context.Background(), "rpm:10.0.0.7", tt.limit, time.Minute)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !result.Allowed || result.Remaining != tt.wantRemaining {
					t.Fatalf("check %d: allowed=%v remaining=%d", i, result.Allowed, result.Remaining)
				}
				if result.ResetAt.Before(before.Add(time.Minute)) {
					t.Errorf("reset %v is inside the current window", result.ResetAt)
				}
			}
		})
	}
}

func TestLimiter_UnreachableRedisFailsOpen(t *testing.T) {
	logs := captureLogs(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	result, err := NewLimiter(rdb).Check(context.Background(), "rpm:10.0.0.7", 30, time.Minute)
	if err != nil {
		t.Fatalf("expected fail-open without error, got %v", err)
	}
	if !result.Allowed || result.Remaining != 30 {
		t.Errorf("allowed=%v remaining=%d, want allowed with full quota", result.Allowed, result.Remaining)
	}
	out := logs.String()
	if !strings.Contains(out, "rate limiter unavailable") || !strings.Contains(out, "key=rpm:10.0.0.7") {
		t.Errorf("expected a fail-open warning for the client key, got %q", out)
	}
}

func TestMiddleware_RealLimiterWithoutRedis(t *testing.T) {
	mw := Middleware(NewLimiter(nil), NewTokenBudget(nil), rateCfg(true, 30, 1000), nil)
	rec, called := serve(mw)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
	if got := rec.Header().Get(headerRateLimitRemainingRequests); got != "29" {
		t.Errorf("remaining header = %q, want 29", got)
	}
	if got := rec.Header().Get(headerRateLimitRequests); got != "30" {
		t.Errorf("limit header = %q, want 30", got)
	}
}
