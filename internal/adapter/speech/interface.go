// Package speech defines the synthesis and recognition boundaries. Vendors
// sit behind these interfaces; the engine only ever sees PCM in and
// transcript events out.
package speech

import (
	"context"
	"io"
)

// SynthSampleRate is the PCM sample rate synthesizers produce. The outbound
// pipeline downsamples from here to the telephony rate.
const SynthSampleRate = 24000

// Synthesizer turns text into a stream of 16-bit little-endian PCM at
// SynthSampleRate. The reader must be closed by the caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// EventType classifies recognition events.
type EventType string

const (
	// EventSpeechStarted fires as soon as the recognizer detects the human
	// talking, before any words are final. It drives barge-in.
	EventSpeechStarted EventType = "speech_started"
	// EventTranscript delivers a completed utterance.
	EventTranscript EventType = "transcript"
)

// Event is one recognition result.
type Event struct {
	Type EventType
	Text string
}

// RecognitionStream accepts raw 8kHz mulaw telephony audio and emits events.
type RecognitionStream interface {
	// Write feeds inbound audio exactly as it arrived from the carrier.
	Write(audio []byte) error
	// Events delivers recognition results until the stream is closed.
	Events() <-chan Event
	Close() error
}

// Recognizer opens per-call recognition streams.
type Recognizer interface {
	NewStream(ctx context.Context) (RecognitionStream, error)
}
