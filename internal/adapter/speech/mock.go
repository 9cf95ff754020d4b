package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
)

// MockSynthesizer renders a low-amplitude tone whose length tracks the text,
// so the outbound pipeline can be exercised without a vendor account.
type MockSynthesizer struct {
	// PerChar is how much audio each character of input produces.
	PerCharSamples int
}

// NewMockSynthesizer creates a mock synthesizer with roughly 60ms of audio
// per word of input.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{PerCharSamples: SynthSampleRate / 100}
}

var _ Synthesizer = (*MockSynthesizer)(nil)

// Synthesize returns a PCM tone proportional to len(text).
func (m *MockSynthesizer) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	n := len(text) * m.PerCharSamples
	if n == 0 {
		n = m.PerCharSamples
	}
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(3000 * math.Sin(2*math.Pi*440*float64(i)/SynthSampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// MockRecognizer hands out MockStreams and exposes them so tests can script
// events against the audio the engine writes.
type MockRecognizer struct {
	// Streams receives each stream as NewStream creates it.
	Streams chan *MockStream
}

// NewMockRecognizer creates a mock recognizer.
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{Streams: make(chan *MockStream, 8)}
}

var _ Recognizer = (*MockRecognizer)(nil)

// NewStream opens a scriptable stream.
func (r *MockRecognizer) NewStream(_ context.Context) (RecognitionStream, error) {
	s := &MockStream{events: make(chan Event, 16)}
	select {
	case r.Streams <- s:
	default:
	}
	return s, nil
}

// MockStream records written audio and emits whatever the test injects.
type MockStream struct {
	mu      sync.Mutex
	written int
	closed  bool
	events  chan Event
}

var _ RecognitionStream = (*MockStream)(nil)

// Write counts inbound audio bytes.
func (s *MockStream) Write(audio []byte) error {
	s.mu.Lock()
	s.written += len(audio)
	s.mu.Unlock()
	return nil
}

// BytesWritten reports how much audio the engine has fed in.
func (s *MockStream) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Events delivers injected events.
func (s *MockStream) Events() <-chan Event { return s.events }

// Close shuts the event channel.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// EmitSpeechStarted injects a barge-in trigger.
func (s *MockStream) EmitSpeechStarted() { s.emit(Event{Type: EventSpeechStarted}) }

// EmitTranscript injects a completed utterance.
func (s *MockStream) EmitTranscript(text string) {
	s.emit(Event{Type: EventTranscript, Text: text})
}

func (s *MockStream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}
