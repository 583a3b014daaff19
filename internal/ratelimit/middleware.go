package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/httputil"
	"github.com/af-corp/facility-assistant/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// RequestLimiter is satisfied by *Limiter.
type RequestLimiter interface {
	Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error)
}

// BudgetChecker is satisfied by *TokenBudget.
type BudgetChecker interface {
	Check(ctx context.Context, client string, limit int64) (BudgetResult, error)
}

// ClientKey identifies the caller by IP. Run it behind middleware.RealIP.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the per-client requests-per-minute limit and the daily
// token budget. cfg is read per request so reloads apply immediately.
func Middleware(limiter RequestLimiter, budget BudgetChecker, cfg func() config.RateLimitConfig, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl := cfg()
			if !rl.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			reqID := w.Header().Get("X-Request-ID")
			client := ClientKey(r)

			if rl.RequestsPerMinute > 0 {
				rpm := rl.RequestsPerMinute
				result, _ := limiter.Check(r.Context(), "rpm:"+client, int64(rpm), time.Minute)

				w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
				w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
				w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

				if !result.Allowed {
					slog.Warn("rate limit exceeded",
						"request_id", reqID,
						"client", client,
						"dimension", "rpm",
						"limit", rpm,
					)
					metrics.RecordRateLimitHit("rpm")
					w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
					httputil.WriteRateLimitError(w, reqID,
						fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
					return
				}
			}

			if rl.DailyTokens > 0 {
				b, _ := budget.Check(r.Context(), client, rl.DailyTokens)
				if !b.Allowed {
					slog.Warn("daily token budget exceeded",
						"request_id", reqID,
						"client", client,
						"used", b.Used,
						"limit", b.Limit,
					)
					metrics.RecordRateLimitHit("tokens")
					httputil.WriteTokenBudgetError(w, reqID,
						fmt.Sprintf("Daily token budget exceeded: used %d of %d tokens", b.Used, b.Limit))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
