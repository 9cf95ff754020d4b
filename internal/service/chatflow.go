package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/chat"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
)

const (
	callbackAck      = "On it! Calling you now."
	callbackGreeting = "Hi! You asked us to call you back, so here we are."
	callbackFailed   = "We couldn't reach you by phone just now. We're still here in chat."
)

// StartChat opens a chat-mode session directly, without dialing first. The
// first message, when given, goes out on the template path since no
// messaging window exists yet.
func (s *Service) StartChat(ctx context.Context, phone, firstMessage string) (*session.Session, error) {
	if !s.lim.Allow(phone, "") {
		return nil, ErrRateLimited
	}
	sess := s.mgr.Create(domain.ModeChat)

	var handle string
	err := s.retryTransient(func() error {
		var err error
		handle, err = s.msgr.CreateConversation(ctx, "session-"+sess.ID)
		return err
	})
	if err != nil {
		s.mgr.Remove(sess.ID, domain.EndReasonError)
		return nil, err
	}
	if err := s.retryTransient(func() error {
		return s.msgr.AddParticipant(ctx, handle, phone)
	}); err != nil {
		s.mgr.Remove(sess.ID, domain.EndReasonError)
		return nil, err
	}
	if err := s.mgr.RegisterPhoneMapping(sess.ID, phone, handle); err != nil {
		s.mgr.Remove(sess.ID, domain.EndReasonError)
		return nil, err
	}
	sess.SetStatus(domain.SessionActive)

	if firstMessage != "" {
		if _, err := s.sendTemplated(ctx, sess, firstMessage, nil); err != nil {
			s.finish(sess, domain.EndReasonError)
			return nil, err
		}
	}
	s.persist(sess)
	return sess, nil
}

// HandleChatMessage applies one inbound chat webhook. Order matters: rate
// limiting comes before validation, and every drop path returns nil so the
// HTTP response cannot reveal whether a conversation exists.
func (s *Service) HandleChatMessage(ctx context.Context, msg domain.ChatMessage) error {
	if !s.lim.Allow(msg.AuthorAddress, msg.ConversationHandle) {
		return ErrRateLimited
	}
	if err := chat.Validate(&msg); err != nil {
		s.log.Debug("dropping invalid chat message", zap.Error(err))
		return nil
	}
	sess, ok := s.mgr.GetByConversation(msg.ConversationHandle)
	if !ok {
		s.log.Debug("chat message for unknown conversation",
			zap.String("conversation", msg.ConversationHandle))
		return nil
	}
	phone, ok := s.mgr.PhoneForConversation(msg.ConversationHandle)
	if !ok || chat.AuthorPhone(msg.AuthorAddress) != phone {
		s.log.Warn("chat author does not match conversation binding",
			zap.String("session_id", sess.ID))
		return nil
	}

	s.mgr.OpenChatWindow(sess)
	sess.AppendTranscript(domain.SpeakerHuman, msg.Body)

	if sess.Mode() == domain.ModeChat && chat.DetectCallRequest(msg.Body) && s.dialAllowed(ctx, phone) {
		s.log.Info("call requested from chat", zap.String("session_id", sess.ID))
		if _, err := s.sendOutbound(ctx, sess, callbackAck); err != nil {
			s.log.Debug("callback ack not delivered",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
		s.persist(sess)
		go s.callbackFromChat(sess, phone)
		return nil
	}

	sess.PushInbox(msg.Body)
	s.persist(sess)
	return nil
}

// callbackFromChat switches the session back to voice and dials. When the
// phone still cannot be reached the session settles back into chat.
func (s *Service) callbackFromChat(sess *session.Session, phone string) {
	sess.SetMode(domain.ModeVoice)
	sess.SetGreeting(callbackGreeting)

	if s.placeCallWithRetry(sess, phone) {
		return
	}
	if sess.Status() == domain.SessionEnded {
		return
	}

	sess.SetMode(domain.ModeChat)
	sess.SetStatus(domain.SessionActive)
	s.mgr.StopInactivity(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.sendOutbound(ctx, sess, callbackFailed); err != nil {
		s.log.Warn("callback failure notice not delivered",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	s.persist(sess)
}

// ChatTurn delivers the controller's reply and returns every human message
// received since the previous turn.
func (s *Service) ChatTurn(ctx context.Context, sessionID, reply string) ([]string, error) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return nil, session.ErrUnknownSession
	}
	if sess.Mode() != domain.ModeChat {
		return nil, ErrWrongMode
	}
	received := sess.DrainInbox()
	if reply != "" {
		if _, err := s.sendOutbound(ctx, sess, reply); err != nil {
			return received, err
		}
		s.persist(sess)
	}
	return received, nil
}

// SendChat delivers one outbound chat message without touching the inbox.
func (s *Service) SendChat(ctx context.Context, sessionID, text string) error {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return session.ErrUnknownSession
	}
	if sess.Mode() != domain.ModeChat {
		return ErrWrongMode
	}
	if _, err := s.sendOutbound(ctx, sess, text); err != nil {
		return err
	}
	s.persist(sess)
	return nil
}

// sendOutbound posts one agent message, choosing the free-form or template
// path by whether the messaging window is open, and records it in the
// transcript.
func (s *Service) sendOutbound(ctx context.Context, sess *session.Session, body string) (string, error) {
	handle := sess.ConversationHandle()
	if handle == "" {
		return "", ErrNoConversation
	}

	windowOpen := time.Until(sess.ChatExpiry()) > 0
	var msgID string
	err := s.retryTransient(func() error {
		var err error
		if windowOpen {
			msgID, err = s.msgr.SendMessage(ctx, handle, body)
		} else {
			msgID, err = s.msgr.SendTemplate(ctx, handle, body, nil)
		}
		return err
	})
	if err != nil {
		return "", err
	}
	sess.AppendTranscript(domain.SpeakerAgent, body)
	return msgID, nil
}

// sendTemplated forces the template path regardless of window state, for
// business-initiated messages.
func (s *Service) sendTemplated(ctx context.Context, sess *session.Session, fallback string, vars map[string]string) (string, error) {
	handle := sess.ConversationHandle()
	if handle == "" {
		return "", ErrNoConversation
	}
	var msgID string
	err := s.retryTransient(func() error {
		var err error
		msgID, err = s.msgr.SendTemplate(ctx, handle, fallback, vars)
		return err
	})
	if err != nil {
		return "", err
	}
	sess.AppendTranscript(domain.SpeakerAgent, fallback)
	return msgID, nil
}
