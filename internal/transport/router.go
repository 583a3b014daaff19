package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/credential"
	"github.com/af-corp/facility-assistant/internal/types"
)

// Router sends each round trip to the first route whose provider circuit is
// closed. A failed round trip is reported to the caller, never retried on the
// next route.
type Router struct {
	routes []Transport
	health *HealthTracker
}

func NewRouter(health *HealthTracker, routes ...Transport) *Router {
	return &Router{routes: routes, health: health}
}

// Name is the primary route's provider.
func (r *Router) Name() string {
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[0].Name()
}

func (r *Router) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if len(r.routes) == 0 {
		return nil, ErrNoRoute
	}
	for i, route := range r.routes {
		provider := route.Name()
		if !r.health.Allow(provider) {
			slog.Debug("skipping provider with open circuit", "provider", provider)
			continue
		}
		if i > 0 {
			slog.Warn("routing to fallback provider", "provider", provider, "request_id", req.RequestID)
		}

		resp, err := route.Complete(ctx, req)
		if err != nil {
			if countsAgainstHealth(err) {
				r.health.RecordFailure(provider)
			} else {
				r.health.RecordSuccess(provider)
			}
			slog.Error("provider round trip failed", "provider", provider, "request_id", req.RequestID, "error", err)
			return nil, err
		}
		r.health.RecordSuccess(provider)
		return resp, nil
	}
	return nil, ErrCircuitOpen
}

// BuildFromConfig creates one adapter per assistant route, sharing an HTTP
// client per provider.
func BuildFromConfig(asst *config.AssistantConfig, provCfg *config.ProvidersConfig, routing config.RoutingConfig, health *HealthTracker) (*Router, error) {
	clients := make(map[string]*http.Client)
	var routes []Transport

	for _, route := range asst.Routes() {
		cfg, ok := provCfg.Providers[route.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", route.Provider)
		}
		client, ok := clients[route.Provider]
		if !ok {
			timeout := cfg.Timeout
			if timeout == 0 {
				timeout = routing.DefaultTimeout
			}
			maxConns := cfg.MaxConcurrent
			if maxConns == 0 {
				maxConns = 10
			}
			client = &http.Client{
				Timeout: timeout,
				Transport: &http.Transport{
					MaxIdleConns:        maxConns,
					MaxIdleConnsPerHost: maxConns,
					IdleConnTimeout:     90 * time.Second,
					ForceAttemptHTTP2:   true,
				},
			}
			clients[route.Provider] = client
		}
		routes = append(routes, NewOpenAIAdapter(route.Provider, cfg, route, client, credential.FromProvider(cfg, client)))
	}
	if len(routes) == 0 {
		return nil, ErrNoRoute
	}
	return NewRouter(health, routes...), nil
}
