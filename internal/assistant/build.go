package assistant

import (
	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/query"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/tools"
)

// FromConfig builds an Orchestrator, its tool registry and query engine from the
// assistant configuration. guard may be nil.
func FromConfig(transport Transport, cfg *config.AssistantConfig, guard tools.Guard, metrics *telemetry.Metrics) *Orchestrator {
	engine := query.NewEngine(cfg.Parameters)
	registry := tools.NewRegistry(engine, guard, metrics)
	return New(transport, registry, Config{
		Model:         cfg.Primary.Model,
		SystemPrompt:  cfg.SystemPrompt,
		MaxRoundTrips: cfg.MaxRoundTrips,
		Temperature:   cfg.Temperature,
	}, metrics)
}

// Registry returns the tool registry the orchestrator dispatches to.
func (o *Orchestrator) Registry() *tools.Registry { return o.registry }
