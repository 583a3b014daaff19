package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/credential"
	"github.com/af-corp/facility-assistant/internal/types"
)

// maxErrorBody caps how much of a failed response body is kept on a StatusError.
const maxErrorBody = 4 << 10

// OpenAIAdapter talks to one route on an OpenAI-compatible provider: either the
// public chat completions API or an Azure OpenAI deployment.
type OpenAIAdapter struct {
	provider   string
	cfg        config.ProviderConfig
	model      string
	deployment string
	client     *http.Client
	creds      credential.TokenSource
}

func NewOpenAIAdapter(provider string, cfg config.ProviderConfig, route config.ProviderRoute, client *http.Client, creds credential.TokenSource) *OpenAIAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	deployment := route.Deployment
	if deployment == "" {
		deployment = route.Model
	}
	return &OpenAIAdapter{
		provider:   provider,
		cfg:        cfg,
		model:      route.Model,
		deployment: deployment,
		client:     client,
		creds:      creds,
	}
}

func (a *OpenAIAdapter) Name() string { return a.provider }

// Endpoint returns the chat completions URL for this route.
func (a *OpenAIAdapter) Endpoint() string {
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	if a.cfg.Type != "azure" {
		return base + "/chat/completions"
	}
	endpoint := base + "/openai/deployments/" + url.PathEscape(a.deployment) + "/chat/completions"
	if a.cfg.APIVersion != "" {
		endpoint += "?api-version=" + url.QueryEscape(a.cfg.APIVersion)
	}
	return endpoint
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	httpReq, err := a.TransformRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", a.provider, err)
	}
	return a.TransformResponse(resp)
}

func (a *OpenAIAdapter) TransformRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body := openAIRequestBody{
		Model:       a.model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if body.Model == "" {
		body.Model = req.Model
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", a.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	token, err := a.creds.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCredential, a.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	return httpReq, nil
}

func (a *OpenAIAdapter) TransformResponse(resp *http.Response) (*types.ChatResponse, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", a.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{Provider: a.provider, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out types.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", a.provider, err)
	}
	out.Provider = a.provider
	return &out, nil
}

type openAIRequestBody struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	Tools       []types.Tool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}
