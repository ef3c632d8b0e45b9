// Package mock provides a simulated transcription provider for running
// without credentials and for tests. It emits speech activity around
// incoming audio, progressive partials, and exactly one final per commit.
package mock

import (
	"context"
	"sync"
	"time"

	"dictation-relay-service/internal/asr"
)

// SimulatedUtterance is one scripted utterance.
type SimulatedUtterance struct {
	Partials []string // Progressive partial fragments
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample dictation utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"left lung", "left lung is"},
		Final:    "Left lung is clear",
	},
	{
		Partials: []string{"no pleural", "no pleural effusion or"},
		Final:    "No pleural effusion or pneumothorax",
	},
	{
		Partials: []string{"mild", "mild cardiomegaly"},
		Final:    "Mild cardiomegaly noted",
	},
	{
		Partials: []string{"compare with"},
		Final:    "Compare with prior study",
	},
}

// Delay between an audio frame or commit and the resulting event. Zero in
// tests via NewDialerWithDelay.
const defaultEventDelay = 50 * time.Millisecond

// Dialer produces mock streams cycling through the scripted utterances.
type Dialer struct {
	mu      sync.Mutex
	counter int
	delay   time.Duration
}

// NewDialer creates a Dialer with simulated processing delay.
func NewDialer() *Dialer {
	return &Dialer{delay: defaultEventDelay}
}

// NewDialerWithDelay creates a Dialer with the given event delay.
// A zero delay delivers events synchronously, which tests rely on.
func NewDialerWithDelay(delay time.Duration) *Dialer {
	return &Dialer{delay: delay}
}

// Dial returns a stream scripted with the next utterance.
func (d *Dialer) Dial(_ context.Context, _ string) (asr.Stream, error) {
	d.mu.Lock()
	utt := DefaultUtterances[d.counter%len(DefaultUtterances)]
	d.counter++
	d.mu.Unlock()

	return &Stream{utterance: utt, delay: d.delay}, nil
}

// Stream implements asr.Stream with scripted responses.
type Stream struct {
	utterance SimulatedUtterance
	delay     time.Duration

	mu           sync.Mutex
	cb           asr.Callback
	speechOpen   bool
	partialIndex int
	finalSent    bool
	closed       bool
}

// Start begins a mock transcription session.
func (s *Stream) Start(_ context.Context, cb asr.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
	return nil
}

// SendAudio simulates receiving audio: the first frame triggers speech
// detection, subsequent frames emit progressive partials.
func (s *Stream) SendAudio(_ context.Context, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cb == nil {
		return nil
	}

	if !s.speechOpen {
		s.speechOpen = true
		s.emit(func(cb asr.Callback) { cb.OnSpeechStarted() })
		return nil
	}

	if s.partialIndex < len(s.utterance.Partials) {
		partial := s.utterance.Partials[s.partialIndex]
		s.partialIndex++
		s.emit(func(cb asr.Callback) { cb.OnPartial(partial) })
	}
	return nil
}

// Commit simulates end-of-utterance: speech stops and exactly one final
// is emitted.
func (s *Stream) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cb == nil || s.finalSent {
		return nil
	}
	s.finalSent = true
	s.speechOpen = false

	final := s.utterance.Final
	s.emit(func(cb asr.Callback) {
		cb.OnSpeechStopped()
		cb.OnFinal(final)
	})
	return nil
}

// Close ends the mock session. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// emit delivers an event either synchronously (zero delay) or after the
// configured delay. Caller holds s.mu.
func (s *Stream) emit(fn func(asr.Callback)) {
	cb := s.cb
	if s.delay == 0 {
		// Synchronous delivery would deadlock on s.mu if the callback
		// re-enters the stream, so release around the call.
		s.mu.Unlock()
		fn(cb)
		s.mu.Lock()
		return
	}
	go func() {
		time.Sleep(s.delay)
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			fn(cb)
		}
	}()
}
