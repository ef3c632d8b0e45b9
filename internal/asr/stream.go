// Package asr defines the interface for upstream realtime transcription
// providers.
package asr

import "context"

// Callback receives transcript and speech activity events from the
// transcription provider.
type Callback interface {
	// OnFinal is called when the provider finalizes a transcript segment.
	OnFinal(text string)

	// OnPartial is called with an in-progress transcript fragment. The
	// fragment replaces any previous one.
	OnPartial(text string)

	// OnSpeechStarted is called when the provider detects speech.
	OnSpeechStarted()

	// OnSpeechStopped is called when the provider detects silence.
	OnSpeechStopped()

	// OnError is called when the provider reports an error or the stream
	// fails. The stream makes no attempt to recover.
	OnError(err error)
}

// Stream is one realtime transcription session with a provider
// (OpenAI Realtime, mock, ...). A Stream belongs to exactly one relay
// connection.
type Stream interface {
	// Start opens the session and declares the audio format and turn
	// detection policy. Events are delivered to cb until the stream ends.
	Start(ctx context.Context, cb Callback) error

	// SendAudio forwards raw PCM16 audio bytes to the provider.
	SendAudio(ctx context.Context, pcm []byte) error

	// Commit signals end-of-utterance, asking the provider to finalize
	// whatever audio it has buffered.
	Commit(ctx context.Context) error

	// Close ends the session and releases resources.
	Close() error
}

// Dialer produces one Stream per relay connection.
type Dialer interface {
	Dial(ctx context.Context, sessionID string) (Stream, error)
}
