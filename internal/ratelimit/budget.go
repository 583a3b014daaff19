package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetResult is the outcome of a token budget check.
type BudgetResult struct {
	Allowed bool
	Used    int64
	Limit   int64
}

// TokenBudget caps the model tokens a client may consume per UTC day.
type TokenBudget struct {
	rdb *redis.Client
	now func() time.Time
}

// NewTokenBudget creates a budget. With a nil client every check passes.
func NewTokenBudget(rdb *redis.Client) *TokenBudget {
	return &TokenBudget{rdb: rdb, now: time.Now}
}

func (b *TokenBudget) key(client string) string {
	return "assistant:tokens:daily:" + client + ":" + b.now().UTC().Format("2006-01-02")
}

// Check reports whether client is still under limit today. A limit of zero or
// less disables the budget.
func (b *TokenBudget) Check(ctx context.Context, client string, limit int64) (BudgetResult, error) {
	if b.rdb == nil || limit <= 0 {
		return BudgetResult{Allowed: true, Limit: limit}, nil
	}

	used, err := b.rdb.Get(ctx, b.key(client)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("token budget unavailable, allowing request", "client", client, "error", err)
		return BudgetResult{Allowed: true, Limit: limit}, nil
	}
	return BudgetResult{Allowed: used < limit, Used: used, Limit: limit}, nil
}

// Record adds tokens to client's counter for today.
func (b *TokenBudget) Record(ctx context.Context, client string, tokens int64) error {
	if b.rdb == nil || tokens <= 0 {
		return nil
	}

	key := b.key(client)
	now := b.now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	pipe := b.rdb.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
