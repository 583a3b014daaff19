package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/facility-assistant/internal/assistant"
	"github.com/af-corp/facility-assistant/internal/config"
	"github.com/af-corp/facility-assistant/internal/httputil"
	"github.com/af-corp/facility-assistant/internal/query"
	"github.com/af-corp/facility-assistant/internal/ratelimit"
	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
	"github.com/af-corp/facility-assistant/internal/telemetry"
	"github.com/af-corp/facility-assistant/internal/tools"
	"github.com/af-corp/facility-assistant/internal/transport"
	"github.com/af-corp/facility-assistant/internal/types"
	"github.com/go-chi/chi/v5"
)

// TokenRecorder accrues token usage against a client's daily budget.
type TokenRecorder interface {
	Record(ctx context.Context, client string, tokens int64) error
}

// Handler holds dependencies for the assistant HTTP handlers.
type Handler struct {
	source       rooms.Source
	orchestrator func() *assistant.Orchestrator
	budget       TokenRecorder
	cfg          func() *config.Config
	metrics      *telemetry.Metrics
}

// NewHandler wires the handlers. orchestrator is called once per request so a
// config reload takes effect on the next conversation. budget and metrics may be nil.
func NewHandler(source rooms.Source, orchestrator func() *assistant.Orchestrator, budget TokenRecorder, cfg func() *config.Config, metrics *telemetry.Metrics) *Handler {
	return &Handler{
		source:       source,
		orchestrator: orchestrator,
		budget:       budget,
		cfg:          cfg,
		metrics:      metrics,
	}
}

// Routes registers the API endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/ask", h.Ask)
	r.Post("/v1/query", h.Query)
	r.Get("/v1/tools", h.Tools)
	r.Get("/v1/facilities/{facility}/rooms", h.FacilityRooms)
}

type AskRequest struct {
	Prompt   string         `json:"prompt"`
	Facility string         `json:"facility,omitempty"`
	Rooms    *rooms.Dataset `json:"rooms,omitempty"`
	Stream   bool           `json:"stream,omitempty"`
}

type AskResponse struct {
	Answer     string                     `json:"answer"`
	Selected   [][]string                 `json:"selected"`
	RoundTrips int                        `json:"round_trips"`
	ToolCalls  []assistant.ToolCallRecord `json:"tool_calls,omitempty"`
	Usage      types.Usage                `json:"usage"`
}

type QueryRequest struct {
	Facility string         `json:"facility,omitempty"`
	Rooms    *rooms.Dataset `json:"rooms,omitempty"`
	Query    query.Request  `json:"query"`
}

type ToolsResponse struct {
	Version string       `json:"version"`
	Tools   []types.Tool `json:"tools"`
}

type RoomsResponse struct {
	Facility string   `json:"facility"`
	Rooms    []string `json:"rooms"`
}

// Ask handles POST /v1/ask
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	start := time.Now()

	var req AskRequest
	if err := h.decode(w, r, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		httputil.WriteBadRequestError(w, reqID, "prompt is required")
		return
	}

	ds, ok := h.resolveDataset(w, r, reqID, req.Facility, req.Rooms)
	if !ok {
		return
	}

	ctx := assistant.WithRequestID(r.Context(), reqID)
	orch := h.orchestrator()
	recorder := &selection.Recorder{}

	if req.Stream {
		h.askStream(w, r.WithContext(ctx), reqID, orch, req.Prompt, ds, recorder)
		return
	}

	conv, err := orch.Converse(ctx, req.Prompt, ds, recorder)
	h.recordUsage(r, conv)
	if err != nil {
		writeRunError(w, reqID, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, askResponse(conv, recorder))

	slog.Info("request completed",
		"request_id", reqID,
		"facility", req.Facility,
		"round_trips", conv.RoundTrips,
		"tool_calls", len(conv.ToolCalls),
		"total_tokens", conv.Usage.TotalTokens,
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

// Query handles POST /v1/query
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	var req QueryRequest
	if err := h.decode(w, r, &req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	ds, ok := h.resolveDataset(w, r, reqID, req.Facility, req.Rooms)
	if !ok {
		return
	}

	engine := h.orchestrator().Registry().Engine()
	result, err := engine.Evaluate(req.Query, ds)
	if err != nil {
		if errors.Is(err, query.ErrInvalidRequest) {
			httputil.WriteBadRequestError(w, reqID, err.Error())
			return
		}
		slog.Error("query evaluation failed", "request_id", reqID, "error", err)
		httputil.WriteInternalError(w, reqID, "Query evaluation failed")
		return
	}
	h.metrics.RecordQuery(strings.ToLower(string(req.Query.Type)))

	httputil.WriteJSON(w, http.StatusOK, result)
}

// Tools handles GET /v1/tools
func (h *Handler) Tools(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, ToolsResponse{
		Version: tools.CatalogVersion,
		Tools:   h.orchestrator().Registry().Catalog(),
	})
}

// FacilityRooms handles GET /v1/facilities/{facility}/rooms
func (h *Handler) FacilityRooms(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	facility := chi.URLParam(r, "facility")

	ds, ok := h.resolveDataset(w, r, reqID, facility, nil)
	if !ok {
		return
	}
	names := ds.Names()
	if names == nil {
		names = []string{}
	}
	httputil.WriteJSON(w, http.StatusOK, RoomsResponse{Facility: facility, Rooms: names})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	if limit := h.cfg().Server.MaxBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// resolveDataset prefers an inline dataset and otherwise loads the named facility.
// It writes the error response itself and reports whether the caller may continue.
func (h *Handler) resolveDataset(w http.ResponseWriter, r *http.Request, reqID, facility string, inline *rooms.Dataset) (*rooms.Dataset, bool) {
	if inline != nil {
		return inline, true
	}
	if facility == "" {
		httputil.WriteBadRequestError(w, reqID, "facility or rooms is required")
		return nil, false
	}

	ds, err := h.source.Load(r.Context(), facility)
	switch {
	case err == nil:
		return ds, true
	case errors.Is(err, rooms.ErrFacilityNotFound):
		httputil.WriteNotFoundError(w, reqID, "Unknown facility: "+facility)
	default:
		slog.Error("failed to load room data", "request_id", reqID, "facility", facility, "error", err)
		httputil.WriteServiceUnavailableError(w, reqID, "Room data is unavailable")
	}
	return nil, false
}

// recordUsage charges the tokens spent by a run, including failed ones.
func (h *Handler) recordUsage(r *http.Request, conv *assistant.Conversation) {
	if h.budget == nil || conv == nil || conv.Usage.TotalTokens == 0 {
		return
	}
	// The request context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 2*time.Second)
	defer cancel()
	if err := h.budget.Record(ctx, ratelimit.ClientKey(r), int64(conv.Usage.TotalTokens)); err != nil {
		slog.Warn("failed to record token usage", "error", err)
	}
}

func askResponse(conv *assistant.Conversation, recorder *selection.Recorder) AskResponse {
	selected := recorder.Selections()
	if selected == nil {
		selected = [][]string{}
	}
	return AskResponse{
		Answer:     conv.Answer,
		Selected:   selected,
		RoundTrips: conv.RoundTrips,
		ToolCalls:  conv.ToolCalls,
		Usage:      conv.Usage,
	}
}

// runError maps a failed conversation onto the error envelope.
func runError(reqID string, err error) (int, httputil.APIErrorBody) {
	body := httputil.APIErrorBody{RequestID: reqID}
	var status int
	switch {
	case errors.Is(err, transport.ErrCircuitOpen), errors.Is(err, transport.ErrNoRoute):
		status, body.Type, body.Code = http.StatusServiceUnavailable, "server_error", "service_unavailable"
		body.Message = "No model provider is available"
	case errors.Is(err, assistant.ErrRoundTripLimit):
		status, body.Type, body.Code = http.StatusBadGateway, "upstream_error", "round_trip_limit"
		body.Message = "The assistant did not reach an answer"
	case errors.Is(err, assistant.ErrTransportFailure):
		status, body.Type, body.Code = http.StatusBadGateway, "upstream_error", "assistant_unavailable"
		body.Message = "The assistant could not respond"
	default:
		status, body.Type, body.Code = http.StatusInternalServerError, "server_error", "internal_error"
		body.Message = "The conversation failed"
	}
	return status, body
}

func writeRunError(w http.ResponseWriter, reqID string, err error) {
	if errors.Is(err, context.Canceled) {
		slog.Info("client went away", "request_id", reqID)
		return
	}
	status, body := runError(reqID, err)
	httputil.WriteError(w, reqID, status, body.Type, body.Code, body.Message)
}
