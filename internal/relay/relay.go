package relay

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dictation-relay-service/internal/asr"
	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/models"
	"dictation-relay-service/internal/observability/metrics"
	"dictation-relay-service/internal/session"
)

// ClientWriter is the client-facing half of the WebSocket, narrowed to
// what the relay needs so tests can substitute a recorder.
type ClientWriter interface {
	WriteJSON(v any) error
}

// Connection relays events between one dictation client and one upstream
// transcription stream. It implements asr.Callback to receive upstream
// events, which are forwarded to the client in arrival order.
//
// Lifecycle is asymmetric on purpose: a client close tears down the
// upstream stream, but an upstream failure only surfaces an in-band error
// message and leaves the client socket open. Reconnecting is the client's
// call.
type Connection struct {
	sessionID string
	stream    asr.Stream
	store     *session.Store
	publisher *events.Publisher
	lifecycle *Lifecycle
	logger    zerolog.Logger
	startTime time.Time

	clientMu sync.Mutex
	client   ClientWriter
}

// NewConnection creates a relay for one client connection and registers a
// fresh session under sessionID. Any previous session with that id is
// overwritten.
func NewConnection(
	sessionID string,
	stream asr.Stream,
	store *session.Store,
	publisher *events.Publisher,
	client ClientWriter,
	logger zerolog.Logger,
) *Connection {
	store.Create(sessionID)
	metrics.DefaultMetrics.RecordConnectionStart()
	metrics.DefaultMetrics.SetSessionsActive(store.Len())

	return &Connection{
		sessionID: sessionID,
		stream:    stream,
		store:     store,
		publisher: publisher,
		lifecycle: NewLifecycle(),
		client:    client,
		startTime: time.Now(),
		logger: logger.With().
			Str("component", "relay").
			Str("sessionId", sessionID).
			Logger(),
	}
}

// Start opens the upstream stream with this connection as the callback
// receiver. On success the connection is ready to forward audio.
func (c *Connection) Start(ctx context.Context) error {
	if err := c.stream.Start(ctx, c); err != nil {
		c.sendToClient(models.ServerMessage{
			Type:      models.MessageTypeError,
			Error:     "ASR connection failed",
			SessionID: c.sessionID,
		})
		return err
	}
	if err := c.lifecycle.Ready(); err != nil {
		return err
	}
	c.logger.Info().Msg("Upstream stream ready")
	return nil
}

// SessionID returns the session id bound to this connection.
func (c *Connection) SessionID() string {
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return c.lifecycle.State()
}

// HandleBinary forwards one client audio frame upstream. Frames arriving
// before the upstream is ready are dropped, not buffered.
func (c *Connection) HandleBinary(ctx context.Context, frame []byte) error {
	if err := c.lifecycle.Forward(); err != nil {
		if err == ErrNotReady {
			metrics.DefaultMetrics.RecordAudioDropped()
			c.logger.Debug().Msg("Dropping audio, upstream not ready")
			return nil
		}
		return err
	}

	if err := c.stream.SendAudio(ctx, frame); err != nil {
		c.logger.Error().Err(err).Msg("Failed to forward audio upstream")
		return err
	}
	metrics.DefaultMetrics.RecordAudioForwarded(len(frame))
	return nil
}

// HandleText processes one client JSON control message. Malformed JSON is
// logged and ignored; it never terminates the connection.
func (c *Connection) HandleText(ctx context.Context, data []byte) error {
	var ctl models.ClientControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		c.logger.Error().Err(err).Msg("Failed to parse client message")
		return nil
	}

	if ctl.Type == models.ClientControlEndAudio {
		if err := c.lifecycle.Forward(); err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring end_audio")
			return nil
		}
		if err := c.stream.Commit(ctx); err != nil {
			c.logger.Error().Err(err).Msg("Failed to commit audio buffer")
			return err
		}
		c.logger.Info().Msg("Audio committed")
	}
	return nil
}

// Close tears down the upstream stream. Called on client disconnect or
// client-side error. Idempotent.
func (c *Connection) Close() {
	if !c.lifecycle.Close() {
		return
	}
	metrics.DefaultMetrics.RecordConnectionEnd(time.Since(c.startTime).Seconds())
	if err := c.stream.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to close upstream stream")
	}
	c.logger.Info().
		Dur("duration", time.Since(c.startTime)).
		Msg("Connection closed")
}

// --- asr.Callback implementation ---

// OnFinal appends a finalized transcript chunk to the session and forwards
// it to the client. Blank transcripts are discarded.
func (c *Connection) OnFinal(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if c.lifecycle.IsClosed() {
		return
	}

	c.store.AppendChunk(c.sessionID, text)
	metrics.DefaultMetrics.RecordFinalTranscript()

	c.publisher.PublishFinal(context.Background(), c.sessionID, models.TranscriptFinal{
		EventType: "dictation.transcript.final",
		SessionID: c.sessionID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})

	c.sendToClient(models.ServerMessage{
		Type:      models.MessageTypeFinal,
		Text:      text,
		SessionID: c.sessionID,
	})
	c.logger.Info().Str("text", truncate(text, 50)).Msg("Final transcript")
}

// OnPartial overwrites the session's pending partial. Partials are never
// forwarded to the client and never appear in the finalized text.
func (c *Connection) OnPartial(text string) {
	if c.lifecycle.IsClosed() {
		return
	}
	c.store.SetPartial(c.sessionID, text)
	metrics.DefaultMetrics.RecordPartialUpdate()
}

// OnSpeechStarted forwards a lightweight status event to the client.
func (c *Connection) OnSpeechStarted() {
	c.sendToClient(models.ServerMessage{
		Type:      models.MessageTypeSpeechStarted,
		SessionID: c.sessionID,
	})
}

// OnSpeechStopped forwards a lightweight status event to the client.
func (c *Connection) OnSpeechStopped() {
	c.sendToClient(models.ServerMessage{
		Type:      models.MessageTypeSpeechStopped,
		SessionID: c.sessionID,
	})
}

// OnError forwards the upstream error to the client as a typed event. The
// connection stays open; only the client decides to reconnect.
func (c *Connection) OnError(err error) {
	metrics.DefaultMetrics.RecordUpstreamError()
	c.logger.Error().Err(err).Msg("Upstream error")

	msg := "Unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	c.sendToClient(models.ServerMessage{
		Type:      models.MessageTypeError,
		Error:     msg,
		SessionID: c.sessionID,
	})
}

func (c *Connection) sendToClient(msg models.ServerMessage) {
	if c.lifecycle.IsClosed() {
		return
	}
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if err := c.client.WriteJSON(msg); err != nil {
		// No delivery guarantee once the client socket is going away.
		c.logger.Debug().Err(err).Str("type", msg.Type).Msg("Failed to write to client")
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
