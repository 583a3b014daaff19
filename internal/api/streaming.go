package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/af-corp/facility-assistant/internal/assistant"
	"github.com/af-corp/facility-assistant/internal/httputil"
	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
)

// SSE event names emitted by a streamed ask.
const (
	EventSelection = "selection"
	EventAnswer    = "answer"
	EventError     = "error"
)

type SelectionEvent struct {
	Names []string `json:"names"`
}

// eventStream writes named server-sent events and flushes after each one.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter, reqID string) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventStream{w: w, flusher: flusher}, true
}

func (s *eventStream) send(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode stream event", "event", event, "error", err)
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

// askStream runs the conversation while pushing each room selection to the client
// as it happens, then the answer or the error.
func (h *Handler) askStream(w http.ResponseWriter, r *http.Request, reqID string, orch *assistant.Orchestrator, prompt string, ds *rooms.Dataset, recorder *selection.Recorder) {
	stream, ok := newEventStream(w, reqID)
	if !ok {
		httputil.WriteInternalError(w, reqID, "Streaming not supported")
		return
	}

	sink := selection.Tee(recorder, selection.SinkFunc(func(names []string) {
		stream.send(EventSelection, SelectionEvent{Names: names})
	}))

	conv, err := orch.Converse(r.Context(), prompt, ds, sink)
	h.recordUsage(r, conv)
	if err != nil {
		_, body := runError(reqID, err)
		stream.send(EventError, body)
		return
	}
	stream.send(EventAnswer, askResponse(conv, recorder))
}
