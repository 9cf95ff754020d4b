// Package service is the call engine itself: it drives sessions through
// their lifecycle, speaks and listens on the voice pipeline, runs the chat
// fallback, and owns every policy decision the transport layers defer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/speech"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/config"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/logger"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/policy"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/ratelimit"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/store"
)

var (
	// ErrRateLimited maps to 429 with an empty body at the HTTP layer.
	ErrRateLimited = errors.New("service: rate limited")
	// ErrNoStream means a voice operation arrived before the media
	// transport attached.
	ErrNoStream = errors.New("service: no media stream attached")
	// ErrWrongMode means the operation does not apply to the session's
	// current sub-pipeline.
	ErrWrongMode = errors.New("service: operation not valid in this mode")
	// ErrHungUp distinguishes a hangup during listen from a plain timeout.
	ErrHungUp = errors.New("service: caller hung up")
	// ErrNoConversation means a chat operation ran before any conversation
	// was bound to the session.
	ErrNoConversation = errors.New("service: no conversation bound")
	// ErrListenTimeout means the human said nothing before the deadline.
	ErrListenTimeout = errors.New("service: listen timed out")
	// ErrPolicyDenied means the dial policy refused the destination.
	ErrPolicyDenied = errors.New("service: destination not allowed by dial policy")
)

// VoiceCarrier is the telephony side the engine dials through.
type VoiceCarrier interface {
	// PlaceCall dials toPhone and arms a media stream carrying streamToken
	// for socket authentication. Returns the carrier call id.
	PlaceCall(ctx context.Context, toPhone, streamToken string) (string, error)
	HangupCall(ctx context.Context, callID string) error
}

// Messenger is the chat side the engine falls back to.
type Messenger interface {
	CreateConversation(ctx context.Context, friendlyName string) (string, error)
	AddParticipant(ctx context.Context, conversationHandle, phone string) error
	// SendMessage posts free-form text; only valid inside the messaging
	// window.
	SendMessage(ctx context.Context, conversationHandle, body string) (string, error)
	// SendTemplate posts an approved template, required once the window has
	// closed. fallbackBody is used verbatim when no template is configured.
	SendTemplate(ctx context.Context, conversationHandle, fallbackBody string, variables map[string]string) (string, error)
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Manager    *session.Manager
	Store      store.Store
	Limiter    *ratelimit.Limiter
	Voice      VoiceCarrier
	Messenger  Messenger
	Synth      speech.Synthesizer
	Recognizer speech.Recognizer
	// Policy screens outbound destinations. Nil means allow everything.
	Policy *policy.Engine
}

// Service coordinates sessions, carriers, and speech vendors.
type Service struct {
	cfg     *config.Config
	log     *zap.Logger
	mgr     *session.Manager
	store   store.Store
	lim     *ratelimit.Limiter
	voice   VoiceCarrier
	msgr    Messenger
	synth   speech.Synthesizer
	recog   speech.Recognizer
	dialpol *policy.Engine

	mu          sync.Mutex
	recognizers map[string]speech.RecognitionStream
}

// New wires the engine and installs its timer hooks on the manager.
func New(cfg *config.Config, d Deps, log *zap.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		log:         log,
		mgr:         d.Manager,
		store:       d.Store,
		lim:         d.Limiter,
		voice:       d.Voice,
		msgr:        d.Messenger,
		synth:       d.Synth,
		recog:       d.Recognizer,
		dialpol:     d.Policy,
		recognizers: make(map[string]speech.RecognitionStream),
	}
	d.Manager.SetHooks(session.Hooks{
		OnInactive:    s.onInactive,
		OnChatWarning: s.onChatWarning,
		OnChatExpired: s.onChatExpired,
	})
	return s
}

// dialAllowed runs the destination through the dial policy. Evaluation
// errors count as deny; a policy that cannot answer must not place calls.
func (s *Service) dialAllowed(ctx context.Context, phone string) bool {
	if s.dialpol == nil {
		return true
	}
	dec, err := s.dialpol.Evaluate(ctx, phone)
	if err != nil {
		s.log.Error("dial policy evaluation failed", zap.Error(err))
		return false
	}
	return dec == policy.DecisionAllow
}

// GetSession resolves a session id for the control surface.
func (s *Service) GetSession(id string) (*session.Session, bool) { return s.mgr.Get(id) }

// ListSessions returns every live session.
func (s *Service) ListSessions() []*session.Session { return s.mgr.List() }

// GetRecord loads the persisted record of a session, live or ended, as long
// as its retention window has not lapsed.
func (s *Service) GetRecord(ctx context.Context, sessionID string) (*domain.ConversationRecord, error) {
	return s.store.Get(ctx, sessionID)
}

func (s *Service) onInactive(sessionID string) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return
	}
	s.log.Info("ending inactive session", zap.String("session_id", sessionID))
	s.finish(sess, domain.EndReasonInactivity)
}

func (s *Service) onChatWarning(sessionID string, remaining time.Duration) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok || sess.Mode() != domain.ModeChat {
		return
	}
	body := "Just a heads up: this chat closes in about " + humanDuration(remaining) +
		". Reply if there's anything else you need, or say \"call me\" and we'll ring you."
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.sendOutbound(ctx, sess, body); err != nil {
		s.log.Warn("chat window warning not delivered",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Service) onChatExpired(sessionID string) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return
	}
	if sess.Mode() != domain.ModeChat {
		// The session called the human back and is live on voice; the
		// closed window only matters for the next outbound message.
		s.log.Debug("chat window closed during voice session",
			zap.String("session_id", sessionID))
		return
	}
	s.log.Info("chat window expired, ending session", zap.String("session_id", sessionID))
	s.finish(sess, domain.EndReasonExpired)
}

// finish tears a session down: carrier leg, recognition stream, persisted
// record, then the registry entry. Safe to reach from several paths at once;
// Remove is idempotent.
func (s *Service) finish(sess *session.Session, reason domain.EndReason) {
	if sess.Mode() == domain.ModeVoice && reason != domain.EndReasonHangup {
		if callID := sess.CallID(); callID != "" && sess.Status() != domain.SessionEnded {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.voice.HangupCall(ctx, callID); err != nil {
				s.log.Debug("hangup on teardown failed",
					zap.String("session_id", sess.ID), zap.Error(err))
			}
			cancel()
		}
	}
	s.closeRecognition(sess.ID)
	s.persist(sess)
	s.mgr.Remove(sess.ID, reason)
}

// persist writes the conversation record under the session's retention
// window. Failures are logged, never fatal to the call path.
func (s *Service) persist(sess *session.Session) {
	phoneHash := ""
	if phone, ok := s.mgr.PhoneForSession(sess.ID); ok {
		phoneHash = logger.HashPhone(phone)
	}
	rec := &domain.ConversationRecord{
		SessionID:  sess.ID,
		PhoneHash:  phoneHash,
		Transcript: sess.Transcript(),
		CreatedAt:  sess.StartedAt(),
		ExpiresAt:  time.Now().Add(s.cfg.ChatWindow),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, rec); err != nil {
		s.log.Warn("record persist failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// retryTransient runs op and retries it once when the failure looks
// transient.
func (s *Service) retryTransient(op func() error) error {
	err := op()
	if err != nil && errors.Is(err, domain.ErrTransient) {
		time.Sleep(time.Second)
		err = op()
	}
	return err
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return "an hour"
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	default:
		return "a minute"
	}
}
