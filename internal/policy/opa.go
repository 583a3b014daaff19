// Package policy authorizes tool calls with OPA. Policies live in package
// assistant.tools and define allow (bool) and reason (string).
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/facility-assistant/internal/config"
)

const decisionQuery = "[data.assistant.tools.allow, data.assistant.tools.reason]"

// Input is the document policies see as input.
type Input struct {
	Tool      string `json:"tool"`
	Arguments any    `json:"arguments"`
	Time      Time   `json:"time"`
}

type Time struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator holds the compiled policy. It fails closed: with nothing loaded, or on
// an evaluation error, calls are denied.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
	now      func() time.Time
}

// NewEvaluator creates an evaluator. Call Load or LoadFromModules before use.
func NewEvaluator(cfg func() config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg, now: time.Now}
}

// Load compiles the .rego files under the configured bundle path.
func (e *Evaluator) Load() error {
	path := e.cfg().BundlePath
	modules, err := LoadRegoFiles(path)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		slog.Warn("no rego files found, every tool call will be denied", "path", path)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("tool policies loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from module sources keyed by file name.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(decisionQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the loaded policy against input.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, "", fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	arr, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}
	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// Authorize lets the evaluator guard tool dispatch.
func (e *Evaluator) Authorize(ctx context.Context, tool string, arguments json.RawMessage) (bool, string, error) {
	var args any
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &args); err != nil {
			// Malformed arguments are rejected by the tool itself; policies see null.
			args = nil
		}
	}
	now := e.now().UTC()
	return e.Evaluate(ctx, Input{
		Tool:      tool,
		Arguments: args,
		Time:      Time{Hour: now.Hour(), Day: now.Weekday().String()},
	})
}
