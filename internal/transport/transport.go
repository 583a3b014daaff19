// Package transport carries chat requests to OpenAI-compatible model providers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/af-corp/facility-assistant/internal/credential"
	"github.com/af-corp/facility-assistant/internal/types"
)

var (
	ErrCircuitOpen = errors.New("no provider available: circuit open")
	ErrNoRoute     = errors.New("no provider route configured")
	// ErrCredential wraps failures to obtain a bearer token for a provider.
	ErrCredential = errors.New("provider credential unavailable")
)

// Transport performs one chat completion round trip.
type Transport interface {
	Name() string
	Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// countsAgainstHealth reports whether err says something about the provider
// rather than about the request or our own configuration.
func countsAgainstHealth(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCredential) || errors.Is(err, credential.ErrNoCredential) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}
