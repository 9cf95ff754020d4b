// Package session owns the live per-contact state: the session registry,
// the secure phone mapping, and every timer. The phone number a session is
// talking to is never a field here; it lives only in the manager's mapping
// tables and is erased with the session.
package session

import (
	"sync"
	"time"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/audio"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

const (
	transcriptChanSize = 16
	inboxLimit         = 100
)

// Session tracks one ongoing voice or chat contact. All mutable fields are
// guarded by the session's own mutex; cross-session state lives on the
// Manager.
type Session struct {
	ID string
	// StreamToken authenticates the media transport socket for this session.
	StreamToken string

	speaker *audio.Speaker

	mu           sync.Mutex
	mode         domain.Mode
	status       domain.SessionStatus
	callID       string
	streamID     string
	convHandle   string
	startedAt    time.Time
	lastActivity time.Time
	chatExpiry   time.Time
	endReason    domain.EndReason
	transcript   []domain.TranscriptEntry
	inbox        []string
	track        audio.Track

	inactivityTimer *time.Timer
	chatTimer       *time.Timer

	greeting string

	streamUp     chan struct{}
	streamUpOnce sync.Once
	hangup       chan struct{}
	hangupOnce   sync.Once
	transcripts  chan string
	callEvents   chan domain.CallStatusEvent
}

func newSession(id, token string, mode domain.Mode) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		StreamToken:  token,
		speaker:      audio.NewSpeaker(),
		mode:         mode,
		status:       domain.SessionInitiating,
		startedAt:    now,
		lastActivity: now,
		streamUp:     make(chan struct{}),
		hangup:       make(chan struct{}),
		transcripts:  make(chan string, transcriptChanSize),
		callEvents:   make(chan domain.CallStatusEvent, 4),
	}
}

// Speaker returns the session's outbound audio speaker.
func (s *Session) Speaker() *audio.Speaker { return s.speaker }

// Mode returns the active sub-pipeline.
func (s *Session) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the active sub-pipeline.
func (s *Session) SetMode(m domain.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Status returns the lifecycle state.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus moves the lifecycle state.
func (s *Session) SetStatus(st domain.SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// CallID returns the carrier call handle, empty until assigned.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// StreamID returns the carrier-assigned media stream id, empty until the
// transport attaches.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// ConversationHandle returns the chat conversation handle, empty until a
// fallback conversation exists.
func (s *Session) ConversationHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convHandle
}

// StartedAt returns the session start time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// LastActivity returns the last inbound or outbound activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ChatExpiry returns when the messaging window closes; zero when no window
// is open (the next outbound message must use a template).
func (s *Session) ChatExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatExpiry
}

// EndReason returns why the session ended, empty while live.
func (s *Session) EndReason() domain.EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// AttachStream records the carrier stream id and the outbound track, and
// signals anyone waiting for the transport to come up.
func (s *Session) AttachStream(streamID string, track audio.Track) {
	s.mu.Lock()
	s.streamID = streamID
	s.track = track
	s.mu.Unlock()
	s.streamUpOnce.Do(func() { close(s.streamUp) })
}

// DetachStream drops the outbound track after the socket closes.
func (s *Session) DetachStream() {
	s.mu.Lock()
	s.track = nil
	s.mu.Unlock()
}

// Track returns the current outbound media track, nil while detached.
func (s *Session) Track() audio.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// StreamUp is closed once the media transport has attached.
func (s *Session) StreamUp() <-chan struct{} { return s.streamUp }

// Hangup is closed once the session is marked ended; listeners racing on a
// transcript observe it and fail fast.
func (s *Session) Hangup() <-chan struct{} { return s.hangup }

// MarkEnded flips the session to ended and releases hangup waiters. Safe to
// call repeatedly.
func (s *Session) MarkEnded(reason domain.EndReason) {
	s.mu.Lock()
	if s.status != domain.SessionEnded {
		s.status = domain.SessionEnded
		s.endReason = reason
	}
	s.mu.Unlock()
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// AppendTranscript records one utterance.
func (s *Session) AppendTranscript(speaker domain.Speaker, text string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, domain.TranscriptEntry{Speaker: speaker, Text: text})
	s.mu.Unlock()
}

// Transcript returns a copy of the ordered transcript.
func (s *Session) Transcript() []domain.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// PushTranscript delivers a completed inbound transcript to whoever is
// listening. When nobody drains fast enough the oldest pending transcript
// is dropped rather than blocking the recognizer pump.
func (s *Session) PushTranscript(text string) {
	for {
		select {
		case s.transcripts <- text:
			return
		default:
			select {
			case <-s.transcripts:
			default:
			}
		}
	}
}

// Transcripts exposes completed inbound transcripts for the listen race.
func (s *Session) Transcripts() <-chan string { return s.transcripts }

// SetGreeting stores the opening line spoken once the media stream attaches.
func (s *Session) SetGreeting(text string) {
	s.mu.Lock()
	s.greeting = text
	s.mu.Unlock()
}

// TakeGreeting returns the pending opening line and clears it, so the
// greeting is spoken at most once across reconnects.
func (s *Session) TakeGreeting() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.greeting
	s.greeting = ""
	return g
}

// NotifyCallEvent hands a terminal call event to whoever is driving the
// dial-retry loop. Never blocks; the oldest pending event is dropped first.
func (s *Session) NotifyCallEvent(ev domain.CallStatusEvent) {
	for {
		select {
		case s.callEvents <- ev:
			return
		default:
			select {
			case <-s.callEvents:
			default:
			}
		}
	}
}

// CallEvents exposes terminal call events for the dial-retry loop.
func (s *Session) CallEvents() <-chan domain.CallStatusEvent { return s.callEvents }

// PushInbox queues a chat reply for the next control-API continue call.
func (s *Session) PushInbox(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbox) >= inboxLimit {
		s.inbox = s.inbox[1:]
	}
	s.inbox = append(s.inbox, text)
}

// DrainInbox returns and clears the queued chat replies.
func (s *Session) DrainInbox() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.inbox
	s.inbox = nil
	return out
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setCallID(id string) {
	s.mu.Lock()
	s.callID = id
	s.mu.Unlock()
}

func (s *Session) setConversationHandle(h string) {
	s.mu.Lock()
	s.convHandle = h
	s.mu.Unlock()
}

func (s *Session) setChatExpiry(t time.Time) {
	s.mu.Lock()
	s.chatExpiry = t
	s.mu.Unlock()
}

// resetInactivityTimer cancels any previous inactivity timer and arms a new
// one. At most one live timer per purpose ever exists.
func (s *Session) resetInactivityTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
	}
	s.inactivityTimer = time.AfterFunc(d, fn)
	s.lastActivity = time.Now()
}

// resetChatTimer swaps the chat-window timer handle the same way.
func (s *Session) resetChatTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatTimer != nil {
		s.chatTimer.Stop()
	}
	s.chatTimer = time.AfterFunc(d, fn)
}

// stopInactivityTimer cancels the inactivity timer without touching the chat
// window timer.
func (s *Session) stopInactivityTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
		s.inactivityTimer = nil
	}
}

// stopTimers cancels both timers; called exactly once from Remove.
func (s *Session) stopTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inactivityTimer != nil {
		s.inactivityTimer.Stop()
		s.inactivityTimer = nil
	}
	if s.chatTimer != nil {
		s.chatTimer.Stop()
		s.chatTimer = nil
	}
}
