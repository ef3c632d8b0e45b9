package finalize

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/models"
	"dictation-relay-service/internal/session"
)

// fakeLLM returns a canned completion and records the request.
type fakeLLM struct {
	response string
	err      error
	lastReq  openai.ChatCompletionRequest
	calls    int
}

func (f *fakeLLM) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.response}},
		},
	}, nil
}

func newTestFinalizer(llm ChatCompleter) (*Finalizer, *session.Store) {
	store := session.NewStore(time.Hour, time.Hour, zerolog.Nop())
	publisher := events.New(&events.Config{Enabled: false})
	return New(llm, "gpt-4o-mini", store, publisher, zerolog.Nop()), store
}

func TestFinalize_EmptyText(t *testing.T) {
	llm := &fakeLLM{}
	f, _ := newTestFinalizer(llm)

	_, err := f.Finalize(context.Background(), models.FinalizeRequest{Text: ""})
	if err != ErrNoText {
		t.Errorf("expected ErrNoText, got %v", err)
	}

	_, err = f.Finalize(context.Background(), models.FinalizeRequest{Text: "   "})
	if err != ErrNoText {
		t.Errorf("expected ErrNoText for whitespace, got %v", err)
	}

	if llm.calls != 0 {
		t.Error("model must not be called without text")
	}
}

func TestFinalize_MissingSession(t *testing.T) {
	llm := &fakeLLM{}
	f, _ := newTestFinalizer(llm)

	_, err := f.Finalize(context.Background(), models.FinalizeRequest{SessionID: "nope"})
	if err != ErrNoText {
		t.Errorf("expected ErrNoText for absent session, got %v", err)
	}
}

func TestFinalize_ValidModelJSON(t *testing.T) {
	llm := &fakeLLM{response: `{"cleaned_text":"Patient has mild edema.","findings_blocks":[],"agentic_commands":[]}`}
	f, _ := newTestFinalizer(llm)

	resp, err := f.Finalize(context.Background(), models.FinalizeRequest{Text: "patient has mild edema"})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if resp.CleanedText != "Patient has mild edema." {
		t.Errorf("unexpected cleaned text: %q", resp.CleanedText)
	}
	if len(resp.FindingsBlocks) != 0 || resp.FindingsBlocks == nil {
		t.Errorf("expected empty non-nil findings, got %v", resp.FindingsBlocks)
	}
	if len(resp.AgenticCommands) != 0 || resp.AgenticCommands == nil {
		t.Errorf("expected empty non-nil commands, got %v", resp.AgenticCommands)
	}
	if resp.SessionID != "" {
		t.Errorf("expected empty session id for direct text, got %q", resp.SessionID)
	}
	if resp.ProcessingTimeMs < 0 {
		t.Errorf("expected non-negative processing time, got %d", resp.ProcessingTimeMs)
	}
}

func TestFinalize_NonJSONModelOutput_FallsBack(t *testing.T) {
	llm := &fakeLLM{response: "just plain text"}
	f, _ := newTestFinalizer(llm)

	resp, err := f.Finalize(context.Background(), models.FinalizeRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Finalize must not fail on unparseable model output: %v", err)
	}

	if resp.CleanedText != "just plain text" {
		t.Errorf("expected raw output as cleaned text, got %q", resp.CleanedText)
	}
	if len(resp.FindingsBlocks) != 0 {
		t.Errorf("expected empty findings on fallback, got %v", resp.FindingsBlocks)
	}
	if len(resp.AgenticCommands) != 0 {
		t.Errorf("expected empty commands on fallback, got %v", resp.AgenticCommands)
	}
}

func TestFinalize_SessionText_DeletedOnSuccess(t *testing.T) {
	llm := &fakeLLM{response: `{"cleaned_text":"Cleaned.","findings_blocks":[],"agentic_commands":[]}`}
	f, store := newTestFinalizer(llm)

	store.Create("sess-1")
	store.AppendChunk("sess-1", "left lung clear")
	store.AppendChunk("sess-1", "no effusion")

	resp, err := f.Finalize(context.Background(), models.FinalizeRequest{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if resp.SessionID != "sess-1" {
		t.Errorf("expected session id echoed, got %q", resp.SessionID)
	}
	if _, ok := store.Get("sess-1"); ok {
		t.Error("expected session deleted after finalize")
	}

	// The joined session text reached the model.
	userMsg := llm.lastReq.Messages[1].Content
	if userMsg != "Dictation text:\n\nleft lung clear no effusion" {
		t.Errorf("unexpected user message: %q", userMsg)
	}
}

func TestFinalize_DirectTextWinsOverSession(t *testing.T) {
	llm := &fakeLLM{response: `{"cleaned_text":"Direct.","findings_blocks":[],"agentic_commands":[]}`}
	f, store := newTestFinalizer(llm)

	store.Create("sess-1")
	store.AppendChunk("sess-1", "session text")

	_, err := f.Finalize(context.Background(), models.FinalizeRequest{
		SessionID: "sess-1",
		Text:      "direct text",
	})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if llm.lastReq.Messages[1].Content != "Dictation text:\n\ndirect text" {
		t.Errorf("expected direct text to win, model saw %q", llm.lastReq.Messages[1].Content)
	}

	// The session is still cleaned up when an id was supplied.
	if _, ok := store.Get("sess-1"); ok {
		t.Error("expected session deleted even with direct text")
	}
}

func TestFinalize_ModelError_SessionKept(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream 500")}
	f, store := newTestFinalizer(llm)

	store.Create("sess-1")
	store.AppendChunk("sess-1", "some text")

	_, err := f.Finalize(context.Background(), models.FinalizeRequest{SessionID: "sess-1"})
	if err == nil {
		t.Fatal("expected model error surfaced")
	}
	if err == ErrNoText {
		t.Fatal("model error must not be ErrNoText")
	}

	// Failure paths keep the session so the client can retry.
	if _, ok := store.Get("sess-1"); !ok {
		t.Error("expected session kept on model failure")
	}
}

func TestFinalize_RequestShape(t *testing.T) {
	llm := &fakeLLM{response: `{"cleaned_text":"x","findings_blocks":[],"agentic_commands":[]}`}
	f, _ := newTestFinalizer(llm)

	f.Finalize(context.Background(), models.FinalizeRequest{Text: "x"})

	req := llm.lastReq
	if req.Model != "gpt-4o-mini" {
		t.Errorf("unexpected model: %s", req.Model)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("expected JSON response format")
	}
	if req.Temperature > 0.001 {
		t.Errorf("expected near-zero temperature, got %v", req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("expected system+user messages, got %v", req.Messages)
	}
}

func TestFinalize_PassesThroughModelStructures(t *testing.T) {
	llm := &fakeLLM{response: `{"cleaned_text":"Cleaned.","findings_blocks":[{"title":"Lungs","text":"Clear"}],"agentic_commands":["compare with prior"]}`}
	f, _ := newTestFinalizer(llm)

	resp, err := f.Finalize(context.Background(), models.FinalizeRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(resp.FindingsBlocks) != 1 {
		t.Errorf("expected one findings block, got %d", len(resp.FindingsBlocks))
	}
	if len(resp.AgenticCommands) != 1 {
		t.Errorf("expected one agentic command, got %d", len(resp.AgenticCommands))
	}
	if string(resp.AgenticCommands[0]) != `"compare with prior"` {
		t.Errorf("unexpected command payload: %s", resp.AgenticCommands[0])
	}
}
