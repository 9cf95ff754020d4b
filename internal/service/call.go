package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
)

// fallbackBody is the re-engagement message sent when every call attempt
// failed. It doubles as the template fallback text in sandbox setups.
const fallbackBody = "Hi! We just tried to call you but couldn't get through. " +
	"Reply here to continue over chat, or say \"call me\" and we'll ring you again."

// InitiateCall opens a voice session and starts dialing in the background.
// The caller gets the session back immediately in the initiating state.
func (s *Service) InitiateCall(ctx context.Context, phone, greeting string) (*session.Session, error) {
	if !s.lim.Allow(phone, "") {
		return nil, ErrRateLimited
	}
	if !s.dialAllowed(ctx, phone) {
		return nil, ErrPolicyDenied
	}
	sess := s.mgr.Create(domain.ModeVoice)
	sess.SetGreeting(greeting)
	if err := s.mgr.RegisterPhone(sess.ID, phone); err != nil {
		return nil, err
	}
	go s.dial(sess, phone)
	return sess, nil
}

// dial runs the attempt schedule and, when the phone cannot be reached,
// moves the session over to chat.
func (s *Service) dial(sess *session.Session, phone string) {
	if s.placeCallWithRetry(sess, phone) {
		return
	}
	if sess.Status() == domain.SessionEnded {
		return
	}
	s.fallbackToChat(context.Background(), sess, phone)
}

// backoff returns the wait before retry n: 1s, 2s, 4s, ...
func backoff(n int) time.Duration { return time.Second << (n - 1) }

// placeCallWithRetry dials up to the configured attempt count, doubling the
// pause between attempts. It reports whether a media stream came up.
func (s *Service) placeCallWithRetry(sess *session.Session, phone string) bool {
	ctx := context.Background()
	for attempt := 1; attempt <= s.cfg.CallAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff(attempt - 1)):
			case <-sess.Hangup():
				return false
			}
		}

		sess.SetStatus(domain.SessionConnecting)
		s.log.Info("placing call",
			zap.String("session_id", sess.ID), zap.Int("attempt", attempt))

		callID, err := s.voice.PlaceCall(ctx, phone, sess.StreamToken)
		if err != nil {
			s.log.Warn("call placement failed",
				zap.String("session_id", sess.ID), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		s.mgr.BindCall(sess, callID)

		if s.awaitConnect(sess, callID) {
			return true
		}
		if sess.Status() == domain.SessionEnded {
			return false
		}
	}
	s.log.Warn("all call attempts failed",
		zap.String("session_id", sess.ID), zap.Int("attempts", s.cfg.CallAttempts))
	return false
}

// awaitConnect waits for the media stream to attach. A terminal carrier
// event or the connect timeout fails the attempt; a timeout also hangs up
// the pending leg so it cannot connect later.
func (s *Service) awaitConnect(sess *session.Session, callID string) bool {
	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()
	for {
		select {
		case <-sess.StreamUp():
			return true
		case ev := <-sess.CallEvents():
			if ev.CallID != callID {
				// Stale event from an earlier attempt.
				continue
			}
			s.log.Info("call attempt ended without connecting",
				zap.String("session_id", sess.ID),
				zap.String("status", string(ev.Status)),
				zap.String("cause", ev.Cause))
			return false
		case <-sess.Hangup():
			return false
		case <-timer.C:
			s.log.Warn("connect timeout", zap.String("session_id", sess.ID))
			hctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.voice.HangupCall(hctx, callID); err != nil {
				s.log.Debug("timeout hangup failed",
					zap.String("session_id", sess.ID), zap.Error(err))
			}
			cancel()
			return false
		}
	}
}

// fallbackToChat opens exactly one conversation for the unreachable phone,
// sends the re-engagement template, and flips the session to chat mode. The
// messaging window opens when the human replies.
func (s *Service) fallbackToChat(ctx context.Context, sess *session.Session, phone string) {
	var handle string
	err := s.retryTransient(func() error {
		var err error
		handle, err = s.msgr.CreateConversation(ctx, "session-"+sess.ID)
		return err
	})
	if err != nil {
		s.log.Error("chat fallback: conversation create failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		s.finish(sess, domain.EndReasonError)
		return
	}

	if err := s.retryTransient(func() error {
		return s.msgr.AddParticipant(ctx, handle, phone)
	}); err != nil {
		s.log.Error("chat fallback: participant add failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		s.finish(sess, domain.EndReasonError)
		return
	}

	if err := s.mgr.RegisterPhoneMapping(sess.ID, phone, handle); err != nil {
		s.log.Error("chat fallback: mapping failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		return
	}

	sess.SetMode(domain.ModeChat)
	sess.SetStatus(domain.SessionActive)
	s.mgr.StopInactivity(sess)

	if _, err := s.sendTemplated(ctx, sess, fallbackBody, nil); err != nil {
		s.log.Error("chat fallback: re-engagement send failed",
			zap.String("session_id", sess.ID), zap.Error(err))
		s.finish(sess, domain.EndReasonError)
		return
	}
	s.persist(sess)
	s.log.Info("fell back to chat",
		zap.String("session_id", sess.ID), zap.String("conversation", handle))
}

// EndSession tears a session down on request, optionally delivering a
// farewell first: spoken on voice, sent on chat.
func (s *Service) EndSession(ctx context.Context, sessionID string, reason domain.EndReason, farewell string) error {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return session.ErrUnknownSession
	}
	if farewell != "" {
		switch sess.Mode() {
		case domain.ModeVoice:
			if sess.Track() != nil {
				sctx, cancel := context.WithTimeout(ctx, 20*time.Second)
				if err := s.speakNow(sctx, sess, farewell); err != nil {
					s.log.Debug("farewell skipped",
						zap.String("session_id", sessionID), zap.Error(err))
				}
				cancel()
			}
		case domain.ModeChat:
			if _, err := s.sendOutbound(ctx, sess, farewell); err != nil {
				s.log.Debug("farewell message failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	s.finish(sess, reason)
	return nil
}
