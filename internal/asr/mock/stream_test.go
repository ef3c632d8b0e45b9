package mock

import (
	"context"
	"sync"
	"testing"

	"dictation-relay-service/internal/asr"
)

// recordingCallback captures events for assertions.
type recordingCallback struct {
	mu            sync.Mutex
	finals        []string
	partials      []string
	speechStarted int
	speechStopped int
	errs          []error
}

func (r *recordingCallback) OnFinal(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, text)
}

func (r *recordingCallback) OnPartial(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *recordingCallback) OnSpeechStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speechStarted++
}

func (r *recordingCallback) OnSpeechStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speechStopped++
}

func (r *recordingCallback) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func dialSync(t *testing.T) (asr.Stream, *recordingCallback) {
	t.Helper()
	d := NewDialerWithDelay(0)
	stream, err := d.Dial(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	cb := &recordingCallback{}
	if err := stream.Start(context.Background(), cb); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return stream, cb
}

func TestStream_FirstFrameTriggersSpeechStarted(t *testing.T) {
	stream, cb := dialSync(t)

	stream.SendAudio(context.Background(), []byte{0, 1})

	if cb.speechStarted != 1 {
		t.Errorf("expected one speech_started, got %d", cb.speechStarted)
	}
	if len(cb.partials) != 0 {
		t.Errorf("expected no partials from first frame, got %v", cb.partials)
	}
}

func TestStream_ProgressivePartials(t *testing.T) {
	stream, cb := dialSync(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		stream.SendAudio(ctx, []byte{0})
	}

	// First frame opened speech; partials are bounded by the script.
	if len(cb.partials) != 2 {
		t.Errorf("expected 2 scripted partials, got %v", cb.partials)
	}
	if cb.partials[0] != "left lung" {
		t.Errorf("unexpected first partial: %q", cb.partials[0])
	}
}

func TestStream_CommitEmitsExactlyOneFinal(t *testing.T) {
	stream, cb := dialSync(t)
	ctx := context.Background()

	stream.SendAudio(ctx, []byte{0})
	stream.Commit(ctx)
	stream.Commit(ctx) // second commit must not emit another final

	if len(cb.finals) != 1 {
		t.Fatalf("expected exactly one final, got %v", cb.finals)
	}
	if cb.finals[0] != "Left lung is clear" {
		t.Errorf("unexpected final: %q", cb.finals[0])
	}
	if cb.speechStopped != 1 {
		t.Errorf("expected one speech_stopped, got %d", cb.speechStopped)
	}
}

func TestStream_ClosedStreamIsSilent(t *testing.T) {
	stream, cb := dialSync(t)
	ctx := context.Background()

	stream.Close()
	stream.SendAudio(ctx, []byte{0})
	stream.Commit(ctx)

	if cb.speechStarted != 0 || len(cb.finals) != 0 {
		t.Error("closed stream must not emit events")
	}
}

func TestDialer_CyclesUtterances(t *testing.T) {
	d := NewDialerWithDelay(0)
	ctx := context.Background()

	finals := make([]string, 0, len(DefaultUtterances))
	for range DefaultUtterances {
		stream, _ := d.Dial(ctx, "sess")
		cb := &recordingCallback{}
		stream.Start(ctx, cb)
		stream.SendAudio(ctx, []byte{0})
		stream.Commit(ctx)
		if len(cb.finals) != 1 {
			t.Fatalf("expected one final per stream, got %v", cb.finals)
		}
		finals = append(finals, cb.finals[0])
	}

	for i, utt := range DefaultUtterances {
		if finals[i] != utt.Final {
			t.Errorf("utterance %d: expected %q, got %q", i, utt.Final, finals[i])
		}
	}
}
