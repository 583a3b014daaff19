package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/af-corp/facility-assistant/internal/config"
)

func testCfg(dir string) func() config.PolicyConfig {
	return func() config.PolicyConfig {
		return config.PolicyConfig{
			Enabled:           true,
			BundlePath:        dir,
			EvaluationTimeout: time.Second,
		}
	}
}

const selectionLimitPolicy = `
package assistant.tools

import rego.v1

default allow := true
default reason := ""

deny contains msg if {
	input.tool == "select_rooms"
	count(input.arguments.names) > 3
	msg := "at most 3 rooms can be selected at once"
}

deny contains msg if {
	input.tool == "query_rooms"
	input.arguments.parameter == "co2"
	input.time.day == "Sunday"
	msg := "CO2 sensors are offline on Sundays"
}

allow := false if count(deny) > 0

reason := concat("; ", deny) if count(deny) > 0
`

func loadTestEvaluator(t *testing.T, policy string) *Evaluator {
	t.Helper()
	e := NewEvaluator(testCfg(""))
	if err := e.LoadFromModules(map[string]string{"tools.rego": policy}); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	return e
}

func TestAuthorize(t *testing.T) {
	e := loadTestEvaluator(t, selectionLimitPolicy)
	e.now = func() time.Time { return time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC) } // a Sunday

	tests := []struct {
		name       string
		tool       string
		args       string
		wantAllow  bool
		wantReason string
	}{
		{"small selection", "select_rooms", `{"names":["A","B"]}`, true, ""},
		{"large selection", "select_rooms", `{"names":["A","B","C","D"]}`, false, "at most 3 rooms can be selected at once"},
		{"co2 on sunday", "query_rooms", `{"type":"avg","filter":null,"parameter":"co2"}`, false, "CO2 sensors are offline on Sundays"},
		{"area on sunday", "query_rooms", `{"type":"avg","filter":null,"parameter":"area"}`, true, ""},
		{"malformed arguments reach the tool", "query_rooms", `{"type":`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason, err := e.Authorize(context.Background(), tt.tool, json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if allowed != tt.wantAllow || reason != tt.wantReason {
				t.Errorf("Authorize() = %v, %q; want %v, %q", allowed, reason, tt.wantAllow, tt.wantReason)
			}
		})
	}
}

func TestEvaluator_NoPoliciesFailsClosed(t *testing.T) {
	e := NewEvaluator(testCfg(""))

	allowed, reason, err := e.Authorize(context.Background(), "query_rooms", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Error("expected denial with no policies loaded")
	}
	if reason != "no policies loaded" {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestEvaluator_InvalidPolicy(t *testing.T) {
	e := NewEvaluator(testCfg(""))
	if err := e.LoadFromModules(map[string]string{"bad.rego": "package assistant.tools\n\nallow := "}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEvaluator_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tools.rego"), []byte(selectionLimitPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEvaluator(testCfg(dir))
	if err := e.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	allowed, _, err := e.Authorize(context.Background(), "select_rooms", json.RawMessage(`{"names":["A"]}`))
	if err != nil || !allowed {
		t.Errorf("expected allow after loading from directory, got %v, %v", allowed, err)
	}
}

func TestLoadRegoFiles_MissingDir(t *testing.T) {
	if _, err := LoadRegoFiles(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
