package assistant

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/af-corp/facility-assistant/internal/rooms"
	"github.com/af-corp/facility-assistant/internal/selection"
	"github.com/af-corp/facility-assistant/internal/tools"
	"github.com/af-corp/facility-assistant/internal/types"
)

// scriptedTransport replays responses in order and records every request.
type scriptedTransport struct {
	responses []*types.ChatResponse
	err       error
	requests  []*types.ChatRequest
}

func (s *scriptedTransport) Complete(_ context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.requests) > len(s.responses) {
		return nil, fmt.Errorf("unexpected round trip %d", len(s.requests))
	}
	return s.responses[len(s.requests)-1], nil
}

func toolCalls(calls ...types.ToolCall) *types.ChatResponse {
	return &types.ChatResponse{
		Provider: "fake",
		Choices: []types.Choice{{
			FinishReason: types.FinishToolCalls,
			Message:      types.Message{Role: types.RoleAssistant, ToolCalls: calls},
		}},
		Usage: types.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}
}

func answer(content string) *types.ChatResponse {
	return &types.ChatResponse{
		Provider: "fake",
		Choices: []types.Choice{{
			FinishReason: types.FinishStop,
			Message:      types.Message{Role: types.RoleAssistant, Content: content},
		}},
		Usage: types.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25},
	}
}

func toolCall(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Type: "function", Function: types.FunctionCall{Name: name, Arguments: args}}
}

func testDataset(t *testing.T) *rooms.Dataset {
	t.Helper()
	ds, err := rooms.FromRecords([]rooms.Record{
		{Name: "301", Attributes: rooms.Attributes{"Level": rooms.String("Level 3"), "Room Status": rooms.String("occupied")}},
		{Name: "302", Attributes: rooms.Attributes{"Level": rooms.String("Level 3"), "Room Status": rooms.String("available")}},
		{Name: "303", Attributes: rooms.Attributes{"Level": rooms.String("Level 3"), "Room Status": rooms.String("occupied")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func newOrchestrator(tr Transport, cfg Config) *Orchestrator {
	return New(tr, tools.NewRegistry(nil, nil, nil), cfg, nil)
}

func TestRun_StopEndsImmediately(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{answer("There are 2 occupied rooms.")}}
	o := newOrchestrator(tr, Config{Model: "gpt-4o-mini"})

	got, err := o.Run(context.Background(), "how many rooms are occupied?", testDataset(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "There are 2 occupied rooms." {
		t.Errorf("unexpected answer %q", got)
	}
	if len(tr.requests) != 1 {
		t.Errorf("expected exactly one round trip, got %d", len(tr.requests))
	}

	req := tr.requests[0]
	if req.Model != "gpt-4o-mini" || len(req.Tools) != 2 {
		t.Errorf("unexpected request: model=%q tools=%d", req.Model, len(req.Tools))
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != types.RoleSystem || req.Messages[1].Content != "how many rooms are occupied?" {
		t.Errorf("expected seeded [system, user] history, got %+v", req.Messages)
	}
	if req.Messages[0].Content != DefaultSystemPrompt {
		t.Error("expected default system prompt")
	}
}

func TestRun_SelectRoomsDispatch(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{
		toolCalls(toolCall("call_1", "select_rooms", `{"names":["R1","R2"]}`)),
		answer("Selected R1 and R2."),
	}}
	var rec selection.Recorder
	o := newOrchestrator(tr, Config{})

	if _, err := o.Run(context.Background(), "select R1 and R2", testDataset(t), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := rec.Selections(); !reflect.DeepEqual(got, [][]string{{"R1", "R2"}}) {
		t.Errorf("expected a single selection of [R1 R2], got %v", got)
	}

	second := tr.requests[1].Messages
	if len(second) != 4 {
		t.Fatalf("expected 4 messages before the second round trip, got %d", len(second))
	}
	requester, result := second[2], second[3]
	if requester.Role != types.RoleAssistant || len(requester.ToolCalls) != 1 || requester.ToolCalls[0].ID != "call_1" {
		t.Errorf("unexpected requesting message: %+v", requester)
	}
	if result.Role != types.RoleTool || result.ToolCallID != "call_1" || result.Content != `"success"` {
		t.Errorf("unexpected tool result: %+v", result)
	}
}

func TestConverse_ToolCallsBesideFinalAnswer(t *testing.T) {
	resp := &types.ChatResponse{
		Provider: "fake",
		Choices: []types.Choice{
			{
				FinishReason: types.FinishToolCalls,
				Message:      types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{toolCall("call_a", "select_rooms", `{"names":["A"]}`)}},
			},
			{
				FinishReason: types.FinishStop,
				Message:      types.Message{Role: types.RoleAssistant, Content: "final"},
			},
			{
				FinishReason: types.FinishToolCalls,
				Message:      types.Message{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{toolCall("call_b", "select_rooms", `{"names":["B"]}`)}},
			},
		},
	}
	tr := &scriptedTransport{responses: []*types.ChatResponse{resp}}
	var rec selection.Recorder
	o := newOrchestrator(tr, Config{})

	conv, err := o.Converse(context.Background(), "select A", testDataset(t), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if conv.Answer != "final" || conv.FinishReason != types.FinishStop {
		t.Errorf("answer = %q (%s), want final (stop)", conv.Answer, conv.FinishReason)
	}
	if conv.RoundTrips != 1 || len(tr.requests) != 1 {
		t.Errorf("expected one round trip, got %d", conv.RoundTrips)
	}
	if got := rec.Selections(); !reflect.DeepEqual(got, [][]string{{"A"}}) {
		t.Errorf("expected only the batch before the answer to run, got %v", got)
	}
	if len(conv.ToolCalls) != 1 || conv.ToolCalls[0].ID != "call_a" {
		t.Errorf("unexpected tool calls: %+v", conv.ToolCalls)
	}

	roles := make([]string, len(conv.Messages))
	for i, m := range conv.Messages {
		roles[i] = m.Role
	}
	want := []string{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant}
	if !reflect.DeepEqual(roles, want) {
		t.Errorf("history roles = %v, want %v", roles, want)
	}
	if last := conv.Messages[len(conv.Messages)-1]; last.Content != "final" || len(last.ToolCalls) != 0 {
		t.Errorf("unexpected final message: %+v", last)
	}
}

func TestRun_UnknownToolIsInert(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{
		toolCalls(toolCall("call_1", "open_doors", `{"names":["R1"]}`)),
		answer("I can't do that."),
	}}
	var rec selection.Recorder
	o := newOrchestrator(tr, Config{})

	conv, err := o.Converse(context.Background(), "open the doors", testDataset(t), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.Answer != "I can't do that." {
		t.Errorf("unexpected answer %q", conv.Answer)
	}
	if len(rec.Selections()) != 0 {
		t.Error("unknown tool must not reach the sink")
	}
	if len(tr.requests) != 2 {
		t.Fatalf("expected the loop to continue, got %d round trips", len(tr.requests))
	}
	if n := len(tr.requests[1].Messages); n != 2 {
		t.Errorf("expected no messages appended for the unknown tool, got %d messages", n)
	}
	if len(conv.ToolCalls) != 1 || conv.ToolCalls[0].Outcome != OutcomeUnknown {
		t.Errorf("expected the skipped call to be recorded, got %+v", conv.ToolCalls)
	}
}

func TestRun_MixedBatchKeepsOnlyAnsweredCalls(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{
		toolCalls(
			toolCall("call_1", "query_rooms", `{"type":"count","filter":{"level":"level 3","status":"occupied"},"parameter":null}`),
			toolCall("call_2", "teleport", `{}`),
			toolCall("call_3", "select_rooms", `{"names":["301","303"]}`),
		),
		answer("Two rooms are occupied on level 3; I selected them."),
	}}
	var rec selection.Recorder
	o := newOrchestrator(tr, Config{})

	conv, err := o.Converse(context.Background(), "how many rooms are occupied on level 3?", testDataset(t), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msgs := tr.requests[1].Messages
	if len(msgs) != 5 {
		t.Fatalf("expected system, user, assistant and two tool results, got %d messages", len(msgs))
	}
	var ids []string
	for _, c := range msgs[2].ToolCalls {
		ids = append(ids, c.ID)
	}
	if !reflect.DeepEqual(ids, []string{"call_1", "call_3"}) {
		t.Errorf("requesting message should list answered calls only, got %v", ids)
	}
	if msgs[3].ToolCallID != "call_1" || msgs[3].Content != `{"value":2,"rooms":["301","303"]}` {
		t.Errorf("unexpected query result message: %+v", msgs[3])
	}
	if msgs[4].ToolCallID != "call_3" {
		t.Errorf("unexpected select result message: %+v", msgs[4])
	}
	if !reflect.DeepEqual(rec.Last(), []string{"301", "303"}) {
		t.Errorf("unexpected selection %v", rec.Last())
	}

	if conv.RoundTrips != 2 {
		t.Errorf("expected 2 round trips, got %d", conv.RoundTrips)
	}
	if conv.Usage.TotalTokens != 37 {
		t.Errorf("expected usage summed over round trips, got %+v", conv.Usage)
	}
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != types.RoleAssistant || last.Content != conv.Answer {
		t.Errorf("expected the final answer to close the history, got %+v", last)
	}
}

func TestRun_InvalidArgumentsAreReportedToTheModel(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{
		toolCalls(toolCall("call_1", "query_rooms", `{"type":"sum","filter":null,"parameter":""}`)),
		answer("Which parameter should I sum?"),
	}}
	o := newOrchestrator(tr, Config{})

	conv, err := o.Converse(context.Background(), "sum it", testDataset(t), nil)
	if err != nil {
		t.Fatalf("invalid arguments must not abort the run: %v", err)
	}
	result := tr.requests[1].Messages[3]
	if result.Role != types.RoleTool || !strings.Contains(result.Content, `"error"`) {
		t.Errorf("expected an error payload, got %+v", result)
	}
	if conv.ToolCalls[0].Outcome != OutcomeFailed {
		t.Errorf("expected failed outcome, got %q", conv.ToolCalls[0].Outcome)
	}
}

func TestRun_TransportFailureIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{err: errors.New("connection refused")}
	o := newOrchestrator(tr, Config{})

	_, err := o.Run(context.Background(), "hello", testDataset(t), nil)
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected the cause to be kept, got %v", err)
	}
	if len(tr.requests) != 1 {
		t.Errorf("expected a single attempt, got %d", len(tr.requests))
	}
}

func TestRun_EmptyChoicesIsTransportFailure(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{{Provider: "fake"}}}
	o := newOrchestrator(tr, Config{})

	if _, err := o.Run(context.Background(), "hello", nil, nil); !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
}

func TestRun_RoundTripLimit(t *testing.T) {
	var responses []*types.ChatResponse
	for i := 0; i < 5; i++ {
		responses = append(responses, toolCalls(toolCall(fmt.Sprintf("call_%d", i), "select_rooms", `{"names":[]}`)))
	}
	tr := &scriptedTransport{responses: responses}
	o := newOrchestrator(tr, Config{MaxRoundTrips: 3})

	conv, err := o.Converse(context.Background(), "loop forever", nil, nil)
	if !errors.Is(err, ErrRoundTripLimit) {
		t.Fatalf("expected ErrRoundTripLimit, got %v", err)
	}
	if len(tr.requests) != 3 || conv.RoundTrips != 3 {
		t.Errorf("expected exactly 3 round trips, got %d", len(tr.requests))
	}
}

func TestRun_NonTerminalReasonContinues(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{
		{Choices: []types.Choice{{FinishReason: "", Message: types.Message{Role: types.RoleAssistant}}}},
		answer("done"),
	}}
	o := newOrchestrator(tr, Config{})

	got, err := o.Run(context.Background(), "hi", nil, nil)
	if err != nil || got != "done" {
		t.Fatalf("expected to continue to the final answer, got %q, %v", got, err)
	}
	if len(tr.requests) != 2 {
		t.Errorf("expected 2 round trips, got %d", len(tr.requests))
	}
}

func TestRun_LengthIsTerminal(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{{
		Choices: []types.Choice{{FinishReason: types.FinishLength, Message: types.Message{Content: "partial"}}},
	}}}
	o := newOrchestrator(tr, Config{})

	conv, err := o.Converse(context.Background(), "hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Answer != "partial" || conv.FinishReason != types.FinishLength {
		t.Errorf("unexpected conversation: %+v", conv)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &scriptedTransport{responses: []*types.ChatResponse{answer("never")}}

	_, err := newOrchestrator(tr, Config{}).Run(ctx, "hi", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(tr.requests) != 0 {
		t.Error("expected no round trip after cancellation")
	}
}

func TestRun_CustomConfig(t *testing.T) {
	tr := &scriptedTransport{responses: []*types.ChatResponse{answer("ok")}}
	catalog := tools.Catalog([]string{"area"})
	o := newOrchestrator(tr, Config{Model: "m", SystemPrompt: "be brief", Catalog: catalog[:1]})

	if _, err := o.Run(context.Background(), "hi", nil, nil); err != nil {
		t.Fatal(err)
	}
	req := tr.requests[0]
	if req.Messages[0].Content != "be brief" {
		t.Errorf("unexpected system prompt %q", req.Messages[0].Content)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "query_rooms" {
		t.Errorf("expected the configured catalog, got %+v", req.Tools)
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{AwaitingModel: "AWAITING_MODEL", ExecutingTools: "EXECUTING_TOOLS", Done: "DONE"} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
