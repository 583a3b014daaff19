// Package tools maps the model's function calls onto the query engine and the
// selection sink.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/af-corp/facility-assistant/internal/query"
	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/types"
)

var ErrUnknownTool = errors.New("unknown tool")

// selectAck is the payload returned for every select_rooms call.
const selectAck = "success"

// Guard authorizes a tool call before it runs. A denial is reported to the model.
type Guard interface {
	Authorize(ctx context.Context, tool string, arguments json.RawMessage) (allowed bool, reason string, err error)
}

// Context is what a handler may touch during one conversation.
type Context struct {
	Dataset *rooms.Dataset
	Sink    selection.Sink
}

// Outcome is the serialized tool result sent back to the model. Failed marks error
// payloads (invalid arguments or a policy denial).
type Outcome struct {
	Content string
	Failed  bool
}

type handler func(ctx context.Context, args json.RawMessage, tctx Context) (any, error)

// Registry dispatches calls to the built-in tools.
type Registry struct {
	engine   *query.Engine
	guard    Guard
	metrics  *telemetry.Metrics
	handlers map[Name]handler
}

// NewRegistry wires the built-in tools. guard and metrics may be nil.
func NewRegistry(engine *query.Engine, guard Guard, metrics *telemetry.Metrics) *Registry {
	if engine == nil {
		engine = query.NewEngine(nil)
	}
	r := &Registry{engine: engine, guard: guard, metrics: metrics}
	r.handlers = map[Name]handler{
		QueryRooms:  r.queryRooms,
		SelectRooms: r.selectRooms,
	}
	return r
}

// Catalog declares the registered tools with the engine's parameter enum.
func (r *Registry) Catalog() []types.Tool {
	return Catalog(r.engine.Parameters())
}

// Engine returns the query engine the registry evaluates against.
func (r *Registry) Engine() *query.Engine { return r.engine }

// Dispatch runs one tool call. Unknown names return ErrUnknownTool and produce no
// outcome. Invalid arguments and policy denials are returned as failed outcomes
// rather than errors so the model can correct itself.
func (r *Registry) Dispatch(ctx context.Context, call types.ToolCall, tctx Context) (Outcome, error) {
	name, ok := ParseName(call.Function.Name)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Function.Name)
	}
	args := json.RawMessage(strings.TrimSpace(call.Function.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	if r.guard != nil {
		allowed, reason, err := r.guard.Authorize(ctx, string(name), args)
		if err != nil {
			slog.Error("tool policy evaluation failed", "tool", name, "call_id", call.ID, "error", err)
			return failure("tool call could not be authorized"), nil
		}
		if !allowed {
			if reason == "" {
				reason = "denied by policy"
			}
			return failure(reason), nil
		}
	}

	result, err := r.handlers[name](ctx, args, tctx)
	if err != nil {
		if errors.Is(err, query.ErrInvalidRequest) {
			return failure(err.Error()), nil
		}
		return Outcome{}, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode tool result", "tool", name, "call_id", call.ID, "error", err)
		return failure("result could not be encoded"), nil
	}
	return Outcome{Content: string(data)}, nil
}

func failure(msg string) Outcome {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return Outcome{Content: string(data), Failed: true}
}

type queryArgs struct {
	Type      *string     `json:"type"`
	Filter    *filterArgs `json:"filter"`
	Parameter *string     `json:"parameter"`
}

type filterArgs struct {
	Level  *string `json:"level"`
	Status *string `json:"status"`
}

func (r *Registry) queryRooms(_ context.Context, raw json.RawMessage, tctx Context) (any, error) {
	var args queryArgs
	if err := decodeStrict(raw, &args); err != nil {
		return nil, err
	}
	req, err := r.buildRequest(args)
	if err != nil {
		return nil, err
	}
	result, err := r.engine.Evaluate(req, tctx.Dataset)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordQuery(string(req.Type))
	return result, nil
}

func (r *Registry) buildRequest(args queryArgs) (query.Request, error) {
	if args.Type == nil || *args.Type == "" {
		return query.Request{}, fmt.Errorf("%w: type is required", query.ErrInvalidRequest)
	}
	typ, ok := query.ParseType(*args.Type)
	if !ok {
		return query.Request{}, fmt.Errorf("%w: unknown aggregation type %q", query.ErrInvalidRequest, *args.Type)
	}
	req := query.Request{Type: typ}

	if args.Filter != nil {
		f := &query.Filter{Level: deref(args.Filter.Level), Status: deref(args.Filter.Status)}
		if f.Status != "" && !validStatus(f.Status) {
			return query.Request{}, fmt.Errorf("%w: unknown status %q", query.ErrInvalidRequest, f.Status)
		}
		req.Filter = f
	}

	if p := deref(args.Parameter); p != "" {
		if _, ok := r.engine.Attribute(p); !ok {
			return query.Request{}, fmt.Errorf("%w: unknown parameter %q", query.ErrInvalidRequest, p)
		}
		req.Parameter = p
	}
	return req, nil
}

type selectArgs struct {
	Names []string `json:"names"`
}

func (r *Registry) selectRooms(_ context.Context, raw json.RawMessage, tctx Context) (any, error) {
	var args selectArgs
	if err := decodeStrict(raw, &args); err != nil {
		return nil, err
	}
	if args.Names == nil {
		return nil, fmt.Errorf("%w: names is required", query.ErrInvalidRequest)
	}
	sink := tctx.Sink
	if sink == nil {
		sink = selection.Discard
	}
	sink.Select(args.Names)
	return selectAck, nil
}

// decodeStrict decodes a single JSON object, rejecting unknown fields and trailing data.
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed arguments: %v", query.ErrInvalidRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: malformed arguments: trailing data", query.ErrInvalidRequest)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
