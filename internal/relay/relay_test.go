package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"dictation-relay-service/internal/asr"
	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/models"
	"dictation-relay-service/internal/session"
)

// testStream implements asr.Stream and records calls.
type testStream struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	startErr error
	audio    [][]byte
	commits  int
	cb       asr.Callback
}

func (s *testStream) Start(_ context.Context, cb asr.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	s.cb = cb
	return nil
}

func (s *testStream) SendAudio(_ context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, pcm)
	return nil
}

func (s *testStream) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	return nil
}

func (s *testStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// testClient records messages written to the client socket.
type testClient struct {
	mu       sync.Mutex
	messages []models.ServerMessage
	writeErr error
}

func (c *testClient) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.messages = append(c.messages, v.(models.ServerMessage))
	return nil
}

func (c *testClient) byType(msgType string) []models.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.ServerMessage
	for _, m := range c.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestConnection(t *testing.T) (*Connection, *testStream, *testClient, *session.Store) {
	t.Helper()
	stream := &testStream{}
	client := &testClient{}
	store := session.NewStore(time.Hour, time.Hour, zerolog.Nop())
	publisher := events.New(&events.Config{Enabled: false})

	conn := NewConnection("sess-abc", stream, store, publisher, client, zerolog.Nop())
	return conn, stream, client, store
}

func TestConnection_CreatesSession(t *testing.T) {
	_, _, _, store := newTestConnection(t)

	if _, ok := store.Get("sess-abc"); !ok {
		t.Error("expected session created on connect")
	}
}

func TestConnection_Start_TransitionsToReady(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !stream.started {
		t.Error("expected upstream stream started")
	}
	if conn.State() != StateReady {
		t.Errorf("expected StateReady, got %v", conn.State())
	}
}

func TestConnection_Start_UpstreamFailure(t *testing.T) {
	stream := &testStream{startErr: errors.New("dial refused")}
	client := &testClient{}
	store := session.NewStore(time.Hour, time.Hour, zerolog.Nop())
	conn := NewConnection("sess-abc", stream, store, events.New(nil), client, zerolog.Nop())

	if err := conn.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}

	errs := client.byType(models.MessageTypeError)
	if len(errs) != 1 || errs[0].Error != "ASR connection failed" {
		t.Errorf("expected generic connection error to client, got %v", errs)
	}
}

func TestConnection_AudioBeforeReady_Dropped(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)

	if err := conn.HandleBinary(context.Background(), []byte{1, 2, 3}); err != nil {
		t.Fatalf("pre-ready audio must be silently dropped, got %v", err)
	}
	if len(stream.audio) != 0 {
		t.Error("expected no audio forwarded before ready")
	}
}

func TestConnection_AudioAfterReady_Forwarded(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.HandleBinary(context.Background(), []byte{1, 2})
	conn.HandleBinary(context.Background(), []byte{3, 4})

	if len(stream.audio) != 2 {
		t.Fatalf("expected 2 frames forwarded, got %d", len(stream.audio))
	}
	if conn.State() != StateRelaying {
		t.Errorf("expected StateRelaying, got %v", conn.State())
	}
}

func TestConnection_EndAudio_Commits(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)
	conn.Start(context.Background())

	if err := conn.HandleText(context.Background(), []byte(`{"type":"end_audio"}`)); err != nil {
		t.Fatalf("HandleText failed: %v", err)
	}
	if stream.commits != 1 {
		t.Errorf("expected one commit, got %d", stream.commits)
	}
}

func TestConnection_MalformedClientJSON_Ignored(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)
	conn.Start(context.Background())

	if err := conn.HandleText(context.Background(), []byte(`{not json`)); err != nil {
		t.Fatalf("malformed JSON must be ignored, got %v", err)
	}
	if stream.commits != 0 {
		t.Error("malformed JSON must not commit")
	}
}

func TestConnection_UnknownControlType_Ignored(t *testing.T) {
	conn, stream, _, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.HandleText(context.Background(), []byte(`{"type":"something_else"}`))

	if stream.commits != 0 {
		t.Error("unknown control type must not commit")
	}
}

func TestConnection_OnFinal_AppendsAndForwards(t *testing.T) {
	conn, _, client, store := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnFinal("left lung clear")

	if got := store.Text("sess-abc"); got != "left lung clear" {
		t.Errorf("expected chunk in store, got %q", got)
	}

	finals := client.byType(models.MessageTypeFinal)
	if len(finals) != 1 {
		t.Fatalf("expected one final message, got %d", len(finals))
	}
	if finals[0].Text != "left lung clear" || finals[0].SessionID != "sess-abc" {
		t.Errorf("unexpected final message: %+v", finals[0])
	}
}

func TestConnection_OnFinal_BlankDiscarded(t *testing.T) {
	conn, _, client, store := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnFinal("   ")
	conn.OnFinal("")

	if got := store.Text("sess-abc"); got != "" {
		t.Errorf("blank finals must not be stored, got %q", got)
	}
	if len(client.byType(models.MessageTypeFinal)) != 0 {
		t.Error("blank finals must not reach the client")
	}
}

func TestConnection_OnPartial_NeverReachesClientOrText(t *testing.T) {
	conn, _, client, store := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnPartial("left lu")

	sess, _ := store.Get("sess-abc")
	if sess.PendingPartial != "left lu" {
		t.Errorf("expected pending partial set, got %q", sess.PendingPartial)
	}
	if got := store.Text("sess-abc"); got != "" {
		t.Errorf("partial leaked into text: %q", got)
	}
	if len(client.messages) != 0 {
		t.Errorf("partials must not be forwarded, got %v", client.messages)
	}
}

func TestConnection_SpeechEvents_Forwarded(t *testing.T) {
	conn, _, client, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnSpeechStarted()
	conn.OnSpeechStopped()

	if len(client.byType(models.MessageTypeSpeechStarted)) != 1 {
		t.Error("expected speech_started forwarded")
	}
	if len(client.byType(models.MessageTypeSpeechStopped)) != 1 {
		t.Error("expected speech_stopped forwarded")
	}
}

func TestConnection_OnError_ForwardsButStaysOpen(t *testing.T) {
	conn, stream, client, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnError(errors.New("rate limited"))

	errs := client.byType(models.MessageTypeError)
	if len(errs) != 1 || errs[0].Error != "rate limited" {
		t.Errorf("expected upstream error forwarded, got %v", errs)
	}
	if conn.State() == StateClosed {
		t.Error("an upstream error must not close the connection")
	}
	if stream.closed {
		t.Error("an upstream error must not close the stream")
	}
}

func TestConnection_OnError_NilFallback(t *testing.T) {
	conn, _, client, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.OnError(nil)

	errs := client.byType(models.MessageTypeError)
	if len(errs) != 1 || errs[0].Error != "Unknown error" {
		t.Errorf("expected generic fallback, got %v", errs)
	}
}

func TestConnection_Close_TearsDownUpstream(t *testing.T) {
	conn, stream, client, _ := newTestConnection(t)
	conn.Start(context.Background())

	conn.Close()

	if !stream.closed {
		t.Error("expected upstream stream closed on client close")
	}
	if conn.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", conn.State())
	}

	// Close is idempotent and post-close events are dropped.
	conn.Close()
	before := len(client.messages)
	conn.OnFinal("late transcript")
	if len(client.messages) != before {
		t.Error("events after close must be dropped")
	}
}

func TestConnection_ClientWriteError_NonFatal(t *testing.T) {
	stream := &testStream{}
	client := &testClient{writeErr: errors.New("broken pipe")}
	store := session.NewStore(time.Hour, time.Hour, zerolog.Nop())
	conn := NewConnection("sess-abc", stream, store, events.New(nil), client, zerolog.Nop())
	conn.Start(context.Background())

	conn.OnFinal("still stored")

	// A failed client write leaves the store intact.
	if got := store.Text("sess-abc"); got != "still stored" {
		t.Errorf("expected chunk stored despite write failure, got %q", got)
	}
	if conn.State() == StateClosed {
		t.Error("a failed client write must not close the connection")
	}
}
