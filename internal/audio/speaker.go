package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	// SampleRate is the carrier-side companded rate.
	SampleRate = 8000
	// ChunkBytes is one 20 ms frame at 8 kHz mu-law.
	ChunkBytes = 160
	// ChunkDuration is the audio playing time of one frame.
	ChunkDuration = 20 * time.Millisecond
	// DefaultJitterLead is how much audio accumulates before the first frame
	// is emitted, smoothing irregular delivery from the synthesis stream.
	DefaultJitterLead = 100 * time.Millisecond

	readBlock = 4096
)

// ErrAlreadySpeaking is returned when Speak is called while a previous
// utterance is still playing out.
var ErrAlreadySpeaking = errors.New("audio: already speaking")

// Track is the outbound media surface the speaker writes to.
type Track interface {
	// WriteChunk sends one companded frame.
	WriteChunk(chunk []byte) error
	// Clear tells the carrier to discard audio it has already buffered.
	Clear() error
	// Mark asks the carrier to echo a marker once playback reaches it.
	Mark(name string) error
}

// Speaker streams one utterance at a time to a track with real-time pacing.
// It owns the session's speaking/interrupted flags; Interrupt may be called
// from any goroutine while an utterance is playing.
type Speaker struct {
	interval   time.Duration
	leadChunks int

	mu          sync.Mutex
	speaking    bool
	interrupted bool
	stop        chan struct{}
	utterances  int
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithChunkInterval overrides the real-time pacing interval. Tests use this
// to run the pacer faster than wall-clock playback.
func WithChunkInterval(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.interval = d }
}

// WithJitterLead overrides how much audio buffers before the first emission.
func WithJitterLead(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.leadChunks = int(d / ChunkDuration) }
}

// NewSpeaker creates a speaker with 20 ms pacing and a 100 ms jitter lead.
func NewSpeaker(opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		interval:   ChunkDuration,
		leadChunks: int(DefaultJitterLead / ChunkDuration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speaking reports whether an utterance is currently playing out.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Interrupted reports whether barge-in fired for the current utterance.
func (s *Speaker) Interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted
}

// Interrupt signals barge-in. It is a no-op unless an utterance is playing,
// and is safe to call repeatedly.
func (s *Speaker) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speaking || s.interrupted {
		return
	}
	s.interrupted = true
	close(s.stop)
}

// Speak reads 16-bit LE PCM at 24 kHz from src, converts it to companded
// 8 kHz frames, and writes them to track one frame per pacing interval after
// the jitter lead has accumulated. It returns interrupted=true when barge-in
// stopped playback; in that case the track has been told to clear its queued
// audio. The speaking flag is always reset before Speak returns.
func (s *Speaker) Speak(ctx context.Context, src io.Reader, track Track) (interrupted bool, err error) {
	stop, err := s.begin()
	if err != nil {
		return false, err
	}
	defer s.finish()

	chunks := make(chan []byte, 256)
	errc := make(chan error, 1)
	go readChunks(src, chunks, errc, stop)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var queue [][]byte
	readerDone := false
	var readerErr error
	primed := s.leadChunks == 0

	take := func(c []byte, ok bool) {
		if !ok {
			readerDone = true
			readerErr = <-errc
			return
		}
		queue = append(queue, c)
	}

	for {
		// Pull whatever the reader has produced without blocking.
	drain:
		for !readerDone {
			select {
			case c, ok := <-chunks:
				take(c, ok)
			default:
				break drain
			}
		}

		if !primed {
			if len(queue) >= s.leadChunks || readerDone {
				primed = true
				continue
			}
			select {
			case c, ok := <-chunks:
				take(c, ok)
			case <-stop:
				_ = track.Clear()
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
			continue
		}

		if len(queue) == 0 {
			if readerDone {
				if readerErr != nil {
					return false, fmt.Errorf("audio: synthesis read: %w", readerErr)
				}
				s.utterances++
				_ = track.Mark(fmt.Sprintf("utt-%d", s.utterances))
				return false, nil
			}
			// Underrun: block until the reader catches up.
			select {
			case c, ok := <-chunks:
				take(c, ok)
			case <-stop:
				_ = track.Clear()
				return true, nil
			case <-ctx.Done():
				return false, ctx.Err()
			}
			continue
		}

		select {
		case <-ticker.C:
		case <-stop:
			_ = track.Clear()
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}

		// Interruption beats a tick that raced it.
		select {
		case <-stop:
			_ = track.Clear()
			return true, nil
		default:
		}

		chunk := queue[0]
		queue = queue[1:]
		if err := track.WriteChunk(chunk); err != nil {
			return false, fmt.Errorf("audio: write chunk: %w", err)
		}
	}
}

func (s *Speaker) begin() (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		return nil, ErrAlreadySpeaking
	}
	s.speaking = true
	s.interrupted = false
	s.stop = make(chan struct{})
	return s.stop, nil
}

func (s *Speaker) finish() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}

// readChunks converts the PCM stream into companded frames and hands them to
// the pacer. It abandons the stream as soon as stop closes so an interrupted
// Speak never leaks this goroutine.
func readChunks(src io.Reader, chunks chan<- []byte, errc chan<- error, stop <-chan struct{}) {
	conv := &downConverter{}
	buf := make([]byte, readBlock)
	var pending []byte

	emit := func(b []byte) bool {
		pending = append(pending, b...)
		for len(pending) >= ChunkBytes {
			chunk := make([]byte, ChunkBytes)
			copy(chunk, pending[:ChunkBytes])
			pending = pending[ChunkBytes:]
			select {
			case chunks <- chunk:
			case <-stop:
				return false
			}
		}
		return true
	}

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if !emit(conv.convert(buf[:n])) {
				errc <- nil
				close(chunks)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				if emit(conv.flush()) && len(pending) > 0 {
					// Final short frame goes out as-is.
					chunk := make([]byte, len(pending))
					copy(chunk, pending)
					select {
					case chunks <- chunk:
					case <-stop:
					}
				}
				errc <- nil
			} else {
				errc <- err
			}
			close(chunks)
			return
		}
	}
}

// downConverter carries byte and sample remainders across read blocks so the
// 2-byte sample framing and 3-sample decimation groups stay aligned.
type downConverter struct {
	odd   []byte
	carry []int16
}

func (c *downConverter) convert(block []byte) []byte {
	buf := block
	if len(c.odd) > 0 {
		joined := make([]byte, 0, len(c.odd)+len(block))
		joined = append(joined, c.odd...)
		joined = append(joined, block...)
		buf = joined
		c.odd = nil
	}

	usable := len(buf) &^ 1
	if usable < len(buf) {
		c.odd = []byte{buf[len(buf)-1]}
	}

	samples := DecodePCM16LE(buf[:usable])
	if len(c.carry) > 0 {
		samples = append(c.carry, samples...)
		c.carry = nil
	}

	full := len(samples) / 3 * 3
	if full < len(samples) {
		c.carry = append([]int16(nil), samples[full:]...)
	}

	return EncodeMuLawBuf(DownsampleTo8k(samples[:full]))
}

func (c *downConverter) flush() []byte {
	var out []byte
	if len(c.carry) > 0 {
		out = EncodeMuLawBuf(DownsampleTo8k(c.carry))
		c.carry = nil
	}
	c.odd = nil
	return out
}
