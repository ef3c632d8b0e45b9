// Package openairt implements asr.Stream against the OpenAI Realtime API
// WebSocket protocol, used here purely for input audio transcription.
package openairt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dictation-relay-service/internal/asr"
	"dictation-relay-service/internal/observability/metrics"
)

// DefaultURL is the realtime endpoint, model pinned via query parameter.
const DefaultURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

// Config holds connection and turn-detection settings for the realtime
// session.
type Config struct {
	URL                string
	APIKey             string
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMs    int
	SilenceDurationMs  int
}

// Dialer produces realtime streams from a shared config.
type Dialer struct {
	cfg    Config
	logger zerolog.Logger
}

// NewDialer creates a Dialer. Zero-value config fields fall back to the
// protocol defaults.
func NewDialer(cfg Config, logger zerolog.Logger) *Dialer {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = 0.5
	}
	if cfg.PrefixPaddingMs == 0 {
		cfg.PrefixPaddingMs = 300
	}
	if cfg.SilenceDurationMs == 0 {
		cfg.SilenceDurationMs = 500
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial creates an unstarted stream for one relay connection.
func (d *Dialer) Dial(_ context.Context, sessionID string) (asr.Stream, error) {
	if d.cfg.APIKey == "" {
		return nil, errors.New("openairt: missing API key")
	}
	return &Stream{
		cfg: d.cfg,
		logger: d.logger.With().
			Str("component", "openairt").
			Str("sessionId", sessionID).
			Logger(),
	}, nil
}

// Stream is one realtime transcription session.
type Stream struct {
	cfg    Config
	logger zerolog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	closeMu sync.Mutex
	closed  bool
}

// clientEvent is an event sent to the provider.
type clientEvent struct {
	Type    string          `json:"type"`
	Audio   string          `json:"audio,omitempty"`
	Session *sessionPayload `json:"session,omitempty"`
}

type sessionPayload struct {
	Modalities              []string           `json:"modalities"`
	InputAudioFormat        string             `json:"input_audio_format"`
	InputAudioTranscription transcriptionModel `json:"input_audio_transcription"`
	TurnDetection           turnDetection      `json:"turn_detection"`
}

type transcriptionModel struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

// serverEvent is an event received from the provider. Only the fields the
// relay cares about are decoded.
type serverEvent struct {
	Type       string       `json:"type"`
	Transcript string       `json:"transcript"`
	Delta      string       `json:"delta"`
	Error      *serverError `json:"error"`
}

type serverError struct {
	Message string `json:"message"`
}

// Start dials the provider, sends the session configuration, and launches
// the read loop delivering events to cb.
func (s *Stream) Start(ctx context.Context, cb asr.Callback) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("openairt: dial: %w", err)
	}
	s.conn = conn

	update := clientEvent{
		Type: "session.update",
		Session: &sessionPayload{
			Modalities:              []string{"text", "audio"},
			InputAudioFormat:        "pcm16",
			InputAudioTranscription: transcriptionModel{Model: s.cfg.TranscriptionModel},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         s.cfg.VADThreshold,
				PrefixPaddingMs:   s.cfg.PrefixPaddingMs,
				SilenceDurationMs: s.cfg.SilenceDurationMs,
			},
		},
	}
	if err := s.writeJSON(update); err != nil {
		conn.Close()
		return fmt.Errorf("openairt: session.update: %w", err)
	}

	s.logger.Info().Msg("Realtime session configured")

	go s.readLoop(cb)
	return nil
}

// SendAudio base64-encodes pcm and forwards it as an append event.
func (s *Stream) SendAudio(_ context.Context, pcm []byte) error {
	return s.writeJSON(clientEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// Commit signals end-of-utterance.
func (s *Stream) Commit(_ context.Context) error {
	return s.writeJSON(clientEvent{Type: "input_audio_buffer.commit"})
}

// Close ends the session. Idempotent.
func (s *Stream) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	if s.conn == nil {
		return nil
	}

	s.writeMu.Lock()
	// Best effort; the peer may already be gone.
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *Stream) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func (s *Stream) writeJSON(v any) error {
	if s.conn == nil {
		return errors.New("openairt: stream not started")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// readLoop receives provider events in order and dispatches them until
// the connection ends.
func (s *Stream) readLoop(cb asr.Callback) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error().Err(err).Msg("Realtime connection closed unexpectedly")
			}
			cb.OnError(fmt.Errorf("openairt: read: %w", err))
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed provider JSON is logged and skipped, never fatal.
			s.logger.Error().Err(err).Msg("Failed to parse realtime event")
			continue
		}

		dispatch(ev, cb, s.logger)
	}
}

// dispatch routes one provider event to the callback. Unknown event types
// are ignored.
func dispatch(ev serverEvent, cb asr.Callback, logger zerolog.Logger) {
	metrics.DefaultMetrics.RecordUpstreamEvent(ev.Type)

	switch ev.Type {
	case "conversation.item.input_audio_transcription.completed":
		cb.OnFinal(ev.Transcript)

	case "conversation.item.input_audio_transcription.delta":
		cb.OnPartial(ev.Delta)

	case "input_audio_buffer.speech_started":
		cb.OnSpeechStarted()

	case "input_audio_buffer.speech_stopped":
		cb.OnSpeechStopped()

	case "error":
		msg := "Unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		cb.OnError(errors.New(msg))

	case "session.created", "session.updated":
		logger.Info().Str("event", ev.Type).Msg("Realtime session event")

	default:
		logger.Debug().Str("event", ev.Type).Msg("Ignoring realtime event")
	}
}
