// Package models defines the wire types exchanged with dictation clients
// and the events published downstream.
package models

import "encoding/json"

// Server-to-client WebSocket message types.
const (
	MessageTypeFinal         = "final"
	MessageTypeSpeechStarted = "speech_started"
	MessageTypeSpeechStopped = "speech_stopped"
	MessageTypeError         = "error"
)

// ClientControlEndAudio signals end-of-utterance from the client.
const ClientControlEndAudio = "end_audio"

// ServerMessage is a message sent to a dictation client over the WebSocket.
type ServerMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId"`
}

// ClientControl is a JSON text message received from a dictation client.
// Binary frames carry raw PCM16 audio and are not modeled here.
type ClientControl struct {
	Type string `json:"type"`
}

// FinalizeRequest is the body of POST /end-dictation.
type FinalizeRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// FinalizeResponse is the structured cleanup result returned to callers.
// FindingsBlocks and AgenticCommands pass through whatever shape the
// cleanup model produced.
type FinalizeResponse struct {
	CleanedText      string            `json:"cleaned_text"`
	FindingsBlocks   []json.RawMessage `json:"findings_blocks"`
	AgenticCommands  []json.RawMessage `json:"agentic_commands"`
	SessionID        string            `json:"sessionId,omitempty"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}

// ErrorResponse is the JSON error body for failed HTTP requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TranscriptFinal is published when a finalized transcript chunk is
// appended to a session.
type TranscriptFinal struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// SessionFinalized is published when a session completes cleanup.
type SessionFinalized struct {
	EventType        string `json:"eventType"`
	SessionID        string `json:"sessionId"`
	TextLength       int    `json:"textLength"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	Timestamp        int64  `json:"timestamp"`
}
