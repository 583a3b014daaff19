// Package assistant drives a conversation with a tool-calling model: it sends the
// running history, executes the requested tools locally and resubmits the results
// until the model produces a final answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/tools"
	"github.com/af-corp/facility-assistant/internal/types"
)

var (
	ErrTransportFailure = errors.New("model transport failure")
	ErrRoundTripLimit   = errors.New("round trip limit reached")
)

const DefaultMaxRoundTrips = 8

// DefaultSystemPrompt is used when Config.SystemPrompt is empty.
const DefaultSystemPrompt = `You're an assistant that provides real-time insights about a building by querying its internal API.
Your goal is to interpret the user's request, call the appropriate function and generate a clear response.

Capabilities:
- search for rooms based on provided criteria
- aggregate room parameters (area, CO2, humidity, temperature)
- select rooms in the viewer

Instructions:
1. Understand the user's intent and extract relevant details.
2. Call the tools to fetch data.
3. Process and summarize the results.
4. Generate a human-readable response.
5. Ask clarifying questions if needed.
6. Handle errors gracefully.`

// Transport performs one round trip to the model.
type Transport interface {
	Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// Config is fixed for the lifetime of an Orchestrator.
type Config struct {
	Model         string
	SystemPrompt  string
	Catalog       []types.Tool
	MaxRoundTrips int
	Temperature   *float64
}

// State of a conversation run.
type State int

const (
	AwaitingModel State = iota
	ExecutingTools
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "AWAITING_MODEL"
	case ExecutingTools:
		return "EXECUTING_TOOLS"
	case Done:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Tool call outcomes recorded on a Conversation.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "error"
	OutcomeUnknown = "unknown"
)

// ToolCallRecord describes one tool call the model requested during a run.
type ToolCallRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Outcome string `json:"outcome"`
}

// Conversation is the complete record of one run.
type Conversation struct {
	Messages     []types.Message  `json:"messages"`
	Answer       string           `json:"answer"`
	FinishReason string           `json:"finish_reason"`
	RoundTrips   int              `json:"round_trips"`
	ToolCalls    []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage        types.Usage      `json:"usage"`
}

// Orchestrator runs conversations. It keeps no per-conversation state, so one
// instance may serve concurrent runs.
type Orchestrator struct {
	transport Transport
	registry  *tools.Registry
	cfg       Config
	metrics   *telemetry.Metrics
}

func New(transport Transport, registry *tools.Registry, cfg Config, metrics *telemetry.Metrics) *Orchestrator {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxRoundTrips <= 0 {
		cfg.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if cfg.Catalog == nil {
		cfg.Catalog = registry.Catalog()
	}
	return &Orchestrator{transport: transport, registry: registry, cfg: cfg, metrics: metrics}
}

// Run answers prompt against ds and returns the model's final text.
func (o *Orchestrator) Run(ctx context.Context, prompt string, ds *rooms.Dataset, sink selection.Sink) (string, error) {
	conv, err := o.Converse(ctx, prompt, ds, sink)
	if err != nil {
		return "", err
	}
	return conv.Answer, nil
}

// Converse is Run returning the whole conversation. On error the partial
// conversation is still returned.
func (o *Orchestrator) Converse(ctx context.Context, prompt string, ds *rooms.Dataset, sink selection.Sink) (*Conversation, error) {
	start := time.Now()
	conv := &Conversation{
		Messages: []types.Message{
			{Role: types.RoleSystem, Content: o.cfg.SystemPrompt},
			{Role: types.RoleUser, Content: prompt},
		},
	}

	err := o.drive(ctx, conv, tools.Context{Dataset: ds, Sink: sink})

	status := "ok"
	switch {
	case errors.Is(err, ErrTransportFailure):
		status = "transport_error"
	case errors.Is(err, ErrRoundTripLimit):
		status = "round_trip_limit"
	case err != nil:
		status = "error"
	}
	durationMs := float64(time.Since(start).Milliseconds())
	o.metrics.RecordRun(telemetry.RunLabels{
		Model:            o.cfg.Model,
		Status:           status,
		DurationMs:       durationMs,
		PromptTokens:     conv.Usage.PromptTokens,
		CompletionTokens: conv.Usage.CompletionTokens,
	})

	if err != nil {
		slog.Error("conversation failed",
			"status", status,
			"round_trips", conv.RoundTrips,
			"duration_ms", durationMs,
			"error", err,
		)
		return conv, err
	}
	slog.Info("conversation completed",
		"model", o.cfg.Model,
		"round_trips", conv.RoundTrips,
		"tool_calls", len(conv.ToolCalls),
		"finish_reason", conv.FinishReason,
		"total_tokens", conv.Usage.TotalTokens,
		"duration_ms", durationMs,
	)
	return conv, nil
}

func (o *Orchestrator) drive(ctx context.Context, conv *Conversation, tctx tools.Context) error {
	var batch []types.Message
	state := AwaitingModel

	for state != Done {
		switch state {
		case AwaitingModel:
			if conv.RoundTrips >= o.cfg.MaxRoundTrips {
				return fmt.Errorf("%w: no final answer after %d round trips", ErrRoundTripLimit, conv.RoundTrips)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			resp, err := o.roundTrip(ctx, conv)
			if err != nil {
				return err
			}

			batch = batch[:0]
			final := false
			for _, choice := range resp.Choices {
				if choice.FinishReason == types.FinishToolCalls {
					batch = append(batch, choice.Message)
					continue
				}
				if isTerminal(choice.FinishReason) {
					conv.Answer = choice.Message.Content
					conv.FinishReason = choice.FinishReason
					final = true
					break
				}
			}

			switch {
			case final:
				// Tool calls requested alongside the final answer still run.
				for _, msg := range batch {
					if err := o.executeBatch(ctx, conv, msg, tctx); err != nil {
						return err
					}
				}
				conv.Messages = append(conv.Messages, types.Message{Role: types.RoleAssistant, Content: conv.Answer})
				state = Done
			case len(batch) > 0:
				state = ExecutingTools
			}

		case ExecutingTools:
			for _, msg := range batch {
				if err := o.executeBatch(ctx, conv, msg, tctx); err != nil {
					return err
				}
			}
			state = AwaitingModel
		}
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so round trips carry the caller's request id upstream.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func isTerminal(reason string) bool {
	switch reason {
	case types.FinishStop, types.FinishLength, types.FinishContentFilter:
		return true
	}
	return false
}

func (o *Orchestrator) roundTrip(ctx context.Context, conv *Conversation) (*types.ChatResponse, error) {
	req := &types.ChatRequest{
		RequestID:   RequestID(ctx),
		Model:       o.cfg.Model,
		Messages:    append([]types.Message(nil), conv.Messages...),
		Tools:       o.cfg.Catalog,
		Temperature: o.cfg.Temperature,
		ReceivedAt:  time.Now(),
	}

	start := time.Now()
	resp, err := o.transport.Complete(ctx, req)
	latencyMs := float64(time.Since(start).Milliseconds())
	conv.RoundTrips++

	if err != nil {
		o.metrics.RecordRoundTrip("unknown", "error", latencyMs)
		return nil, fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}
	provider := resp.Provider
	if provider == "" {
		provider = "unknown"
	}
	if len(resp.Choices) == 0 {
		o.metrics.RecordRoundTrip(provider, "error", latencyMs)
		return nil, fmt.Errorf("%w: response has no choices", ErrTransportFailure)
	}
	o.metrics.RecordRoundTrip(provider, "ok", latencyMs)
	conv.Usage.Add(resp.Usage)

	slog.Debug("model round trip",
		"round_trip", conv.RoundTrips,
		"provider", provider,
		"choices", len(resp.Choices),
		"latency_ms", latencyMs,
	)
	return resp, nil
}

// executeBatch runs the calls of one assistant message in order. The requesting
// assistant message is appended once, before its first tool result, and lists only
// the calls that produced a result.
func (o *Orchestrator) executeBatch(ctx context.Context, conv *Conversation, msg types.Message, tctx tools.Context) error {
	requester := -1

	for _, call := range msg.ToolCalls {
		out, err := o.registry.Dispatch(ctx, call, tctx)
		if errors.Is(err, tools.ErrUnknownTool) {
			slog.Warn("skipping unknown tool", "tool", call.Function.Name, "call_id", call.ID)
			conv.ToolCalls = append(conv.ToolCalls, ToolCallRecord{ID: call.ID, Name: call.Function.Name, Outcome: OutcomeUnknown})
			o.metrics.RecordToolCall("unknown", OutcomeUnknown)
			continue
		}
		if err != nil {
			return fmt.Errorf("tool %s: %w", call.Function.Name, err)
		}

		outcome := OutcomeOK
		if out.Failed {
			outcome = OutcomeFailed
		}
		slog.Debug("tool dispatched", "tool", call.Function.Name, "call_id", call.ID, "outcome", outcome)
		conv.ToolCalls = append(conv.ToolCalls, ToolCallRecord{ID: call.ID, Name: call.Function.Name, Outcome: outcome})
		o.metrics.RecordToolCall(call.Function.Name, outcome)

		if requester < 0 {
			conv.Messages = append(conv.Messages, types.Message{Role: types.RoleAssistant, Content: msg.Content})
			requester = len(conv.Messages) - 1
		}
		conv.Messages[requester].ToolCalls = append(conv.Messages[requester].ToolCalls, call)
		conv.Messages = append(conv.Messages, types.Message{
			Role:       types.RoleTool,
			ToolCallID: call.ID,
			Content:    out.Content,
		})
	}
	return nil
}
