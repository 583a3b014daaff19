package config

import (
	"errors"
	"fmt"
)

// AssistantConfig is the conversation setup: which model answers, how it is
// prompted and which parameters the query tool accepts.
type AssistantConfig struct {
	Primary       ProviderRoute     `yaml:"primary"`
	Fallback      []ProviderRoute   `yaml:"fallback"`
	SystemPrompt  string            `yaml:"system_prompt"`
	MaxRoundTrips int               `yaml:"max_round_trips"`
	Temperature   *float64          `yaml:"temperature,omitempty"`
	Parameters    map[string]string `yaml:"parameters"`
}

// ProviderRoute names a provider from providers.yaml and the model (or Azure
// deployment) to use on it.
type ProviderRoute struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Deployment string `yaml:"deployment,omitempty"`
}

// Routes returns the primary route followed by the fallbacks.
func (a *AssistantConfig) Routes() []ProviderRoute {
	routes := make([]ProviderRoute, 0, 1+len(a.Fallback))
	if a.Primary.Provider != "" {
		routes = append(routes, a.Primary)
	}
	return append(routes, a.Fallback...)
}

func DefaultAssistantConfig() *AssistantConfig {
	return &AssistantConfig{
		Primary:       ProviderRoute{Provider: "azure", Model: "gpt-4o-mini"},
		MaxRoundTrips: 8,
		Parameters: map[string]string{
			"area":        "Area",
			"co2":         "CO2",
			"humidity":    "Humidity",
			"temperature": "Temperature",
		},
	}
}

// Validate checks what cannot be defaulted.
func (a *AssistantConfig) Validate() error {
	if a.Primary.Provider == "" {
		return errors.New("primary provider is required")
	}
	for _, route := range a.Routes() {
		if route.Model == "" && route.Deployment == "" {
			return fmt.Errorf("route to %q needs a model or a deployment", route.Provider)
		}
	}
	if a.MaxRoundTrips < 0 {
		return fmt.Errorf("max_round_trips must not be negative, got %d", a.MaxRoundTrips)
	}
	for name, attr := range a.Parameters {
		if name == "" || attr == "" {
			return fmt.Errorf("parameter %q maps to empty attribute", name)
		}
	}
	return nil
}
