// Package finalize converts accumulated dictation text into a structured,
// cleaned result via a chat-completion model, then discards the session.
package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/models"
	"dictation-relay-service/internal/session"
)

// cleanupPrompt is the fixed system instruction for the cleanup model.
const cleanupPrompt = `You are a medical dictation language cleanup model.
Tasks:
1. Clean up dictation text.
2. Correct grammar, punctuation, and radiology phrasing.
3. Identify FINDINGS blocks and return them as JSON.
4. Identify any agentic commands such as:
     "add section", "compare with prior", "insert measurement",
     "rewrite as impression", "flag urgent".
5. Output strict JSON:
   {
     "cleaned_text": "...",
     "findings_blocks": [...],
     "agentic_commands": [...]
   }

Return ONLY valid JSON, no markdown formatting.`

// ErrNoText is returned when neither direct text nor the session yields
// any text to clean.
var ErrNoText = errors.New("no text provided")

// ChatCompleter is the slice of the OpenAI client the finalizer needs,
// narrowed for testing.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Finalizer runs LLM cleanup over accumulated or directly supplied text.
type Finalizer struct {
	llm       ChatCompleter
	model     string
	store     *session.Store
	publisher *events.Publisher
	logger    zerolog.Logger
}

// New creates a Finalizer. model falls back to gpt-4o-mini when empty.
func New(llm ChatCompleter, model string, store *session.Store, publisher *events.Publisher, logger zerolog.Logger) *Finalizer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Finalizer{
		llm:       llm,
		model:     model,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "finalizer").Logger(),
	}
}

// modelResult is the JSON shape the cleanup model is instructed to emit.
// Findings and commands pass through untyped.
type modelResult struct {
	CleanedText     string            `json:"cleaned_text"`
	FindingsBlocks  []json.RawMessage `json:"findings_blocks"`
	AgenticCommands []json.RawMessage `json:"agentic_commands"`
}

// Finalize resolves the dictation text, runs cleanup, deletes the session,
// and returns the structured result. Direct text takes precedence over the
// session lookup. Model output that is not valid JSON degrades to a
// plain-text result instead of failing the request. No retries.
func (f *Finalizer) Finalize(ctx context.Context, req models.FinalizeRequest) (*models.FinalizeResponse, error) {
	start := time.Now()

	text := req.Text
	if strings.TrimSpace(text) == "" && req.SessionID != "" {
		text = f.store.Text(req.SessionID)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	f.logger.Info().
		Str("sessionId", req.SessionID).
		Int("textLength", len(text)).
		Msg("Processing dictation")

	completion, err := f.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: f.model,
		// Temperature carries omitempty, so a literal 0 would be dropped
		// from the request.
		Temperature: math.SmallestNonzeroFloat32,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: cleanupPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Dictation text:\n\n" + text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup completion: %w", err)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, errors.New("empty LLM response")
	}
	raw := completion.Choices[0].Message.Content

	var result modelResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Partial success beats total failure: hand back the raw output
		// as the cleaned text.
		f.logger.Error().Err(err).Str("response", truncate(raw, 200)).Msg("Failed to parse LLM JSON")
		result = modelResult{CleanedText: raw}
	}
	if result.FindingsBlocks == nil {
		result.FindingsBlocks = []json.RawMessage{}
	}
	if result.AgenticCommands == nil {
		result.AgenticCommands = []json.RawMessage{}
	}

	// The session served its purpose either way.
	if req.SessionID != "" {
		f.store.Remove(req.SessionID)
	}

	elapsed := time.Since(start)

	f.publisher.PublishFinalized(ctx, req.SessionID, models.SessionFinalized{
		EventType:        "dictation.session.finalized",
		SessionID:        req.SessionID,
		TextLength:       len(text),
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        time.Now().UnixMilli(),
	})

	f.logger.Info().
		Str("sessionId", req.SessionID).
		Dur("duration", elapsed).
		Msg("Dictation finalized")

	return &models.FinalizeResponse{
		CleanedText:      result.CleanedText,
		FindingsBlocks:   result.FindingsBlocks,
		AgenticCommands:  result.AgenticCommands,
		SessionID:        req.SessionID,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
