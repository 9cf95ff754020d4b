package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/logger"
)

// ErrUnknownSession is returned when an id does not resolve to a live session.
var ErrUnknownSession = errors.New("session: unknown session")

// Hooks are invoked from timer goroutines when a session crosses a deadline.
// The callbacks receive the session id and must tolerate the session being
// gone by the time they run.
type Hooks struct {
	OnInactive    func(sessionID string)
	OnChatWarning func(sessionID string, remaining time.Duration)
	OnChatExpired func(sessionID string)
}

// Config sets the manager's timer durations.
type Config struct {
	InactivityTimeout time.Duration
	ChatWindow        time.Duration
	ChatWarningBefore time.Duration
}

// Manager is the session registry. Every lookup used on a hot path has a
// dedicated index; nothing here scans.
type Manager struct {
	cfg   Config
	log   *zap.Logger
	hooks Hooks

	mu       sync.RWMutex
	sessions map[string]*Session
	byToken  map[string]string // stream token -> session id
	byCall   map[string]string // carrier call id -> session id
	byConv   map[string]string // conversation handle -> session id

	// Secure phone mapping. The raw number exists only in these maps and is
	// erased together with the session.
	phoneBySess map[string]string
	phoneByConv map[string]string
	convByPhone map[string]string
}

// NewManager builds an empty registry.
func NewManager(cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		log:         log,
		sessions:    make(map[string]*Session),
		byToken:     make(map[string]string),
		byCall:      make(map[string]string),
		byConv:      make(map[string]string),
		phoneBySess: make(map[string]string),
		phoneByConv: make(map[string]string),
		convByPhone: make(map[string]string),
	}
}

// SetHooks installs the timer callbacks. Must be called before any timer is
// armed.
func (m *Manager) SetHooks(h Hooks) { m.hooks = h }

// Create registers a new session in the given mode and returns it.
func (m *Manager) Create(mode domain.Mode) *Session {
	id := "sess_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	token := uuid.New().String()
	s := newSession(id, token, mode)

	m.mu.Lock()
	m.sessions[id] = s
	m.byToken[token] = id
	m.mu.Unlock()

	m.log.Info("session created", zap.String("session_id", id), zap.String("mode", string(mode)))
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetByToken resolves a stream token presented by the media transport.
func (m *Manager) GetByToken(token string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// GetByCall resolves a carrier call id from a status event.
func (m *Manager) GetByCall(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCall[callID]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// GetByConversation resolves an inbound chat message's conversation handle.
func (m *Manager) GetByConversation(handle string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byConv[handle]
	if !ok {
		return nil, false
	}
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all live sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// BindCall attaches a carrier call id to the session and indexes it for
// status-event lookup. Re-binding (a retry attempt placed a fresh call)
// replaces the previous index entry.
func (m *Manager) BindCall(s *Session, callID string) {
	m.mu.Lock()
	if prev := s.CallID(); prev != "" {
		delete(m.byCall, prev)
	}
	m.byCall[callID] = s.ID
	m.mu.Unlock()
	s.setCallID(callID)
}

// RegisterPhone stores the phone a session is dialing before any
// conversation exists. The raw number is never logged.
func (m *Manager) RegisterPhone(sessionID, phone string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session: register phone: %w", ErrUnknownSession)
	}
	m.phoneBySess[sessionID] = phone
	m.mu.Unlock()

	m.log.Info("phone registered",
		zap.String("session_id", sessionID), logger.Phone("phone", phone))
	return nil
}

// RegisterPhoneMapping stores phone<->conversation both ways and indexes the
// conversation handle to the session. The raw number is never logged.
func (m *Manager) RegisterPhoneMapping(sessionID, phone, convHandle string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session: register mapping: %w", ErrUnknownSession)
	}
	m.phoneBySess[sessionID] = phone
	m.phoneByConv[convHandle] = phone
	m.convByPhone[phone] = convHandle
	m.byConv[convHandle] = sessionID
	m.mu.Unlock()

	s.setConversationHandle(convHandle)
	m.log.Info("phone mapping registered",
		zap.String("session_id", sessionID),
		zap.String("conversation", convHandle),
		logger.Phone("phone", phone))
	return nil
}

// PhoneForConversation returns the raw phone number bound to a conversation.
// Callers use it to address the carrier and must not persist or log it.
func (m *Manager) PhoneForConversation(handle string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.phoneByConv[handle]
	return p, ok
}

// PhoneForSession returns the raw phone number a session is bound to.
func (m *Manager) PhoneForSession(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.phoneBySess[sessionID]
	return p, ok
}

// RefreshInactivity notes activity on the session and re-arms its inactivity
// timer. The previous timer is always cancelled first, so exactly one timer
// is pending and it measures from the most recent activity.
func (m *Manager) RefreshInactivity(s *Session) {
	id := s.ID
	s.resetInactivityTimer(m.cfg.InactivityTimeout, func() { m.fireInactive(id) })
}

// StopInactivity cancels the inactivity timer. Chat-mode sessions are
// bounded by the messaging window instead.
func (m *Manager) StopInactivity(s *Session) {
	s.stopInactivityTimer()
}

func (m *Manager) fireInactive(id string) {
	if _, ok := m.Get(id); !ok {
		return
	}
	m.log.Info("session inactive", zap.String("session_id", id),
		zap.Duration("timeout", m.cfg.InactivityTimeout))
	if m.hooks.OnInactive != nil {
		m.hooks.OnInactive(id)
	}
}

// OpenChatWindow records a fresh messaging window on the session and arms
// the warning timer. When the warning would not fit inside the window the
// expiry is armed directly.
func (m *Manager) OpenChatWindow(s *Session) {
	expiry := time.Now().Add(m.cfg.ChatWindow)
	s.setChatExpiry(expiry)

	id := s.ID
	warnIn := m.cfg.ChatWindow - m.cfg.ChatWarningBefore
	if warnIn <= 0 {
		s.resetChatTimer(m.cfg.ChatWindow, func() { m.fireChatExpired(id) })
		return
	}
	s.resetChatTimer(warnIn, func() { m.fireChatWarning(id) })
}

func (m *Manager) fireChatWarning(id string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	remaining := time.Until(s.ChatExpiry())
	if remaining < 0 {
		remaining = 0
	}
	m.log.Info("chat window closing", zap.String("session_id", id),
		zap.Duration("remaining", remaining))
	if m.hooks.OnChatWarning != nil {
		m.hooks.OnChatWarning(id, remaining)
	}
	// The single timer handle now counts down to the expiry itself.
	s.resetChatTimer(remaining, func() { m.fireChatExpired(id) })
}

func (m *Manager) fireChatExpired(id string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	s.setChatExpiry(time.Time{})
	m.log.Info("chat window expired", zap.String("session_id", id))
	if m.hooks.OnChatExpired != nil {
		m.hooks.OnChatExpired(id)
	}
}

// Remove tears a session down: indexes, phone mapping, and timers all go in
// one pass, and hangup waiters are released. Safe to call more than once.
func (m *Manager) Remove(sessionID string, reason domain.EndReason) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	delete(m.byToken, s.StreamToken)
	if callID := s.CallID(); callID != "" {
		delete(m.byCall, callID)
	}
	if handle := s.ConversationHandle(); handle != "" {
		delete(m.byConv, handle)
		if phone, ok := m.phoneByConv[handle]; ok {
			delete(m.phoneByConv, handle)
			delete(m.convByPhone, phone)
		}
	}
	delete(m.phoneBySess, sessionID)
	m.mu.Unlock()

	s.stopTimers()
	s.MarkEnded(reason)
	m.log.Info("session removed", zap.String("session_id", sessionID),
		zap.String("reason", string(reason)))
}
