package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/speech"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/stream"
)

var _ stream.EventHandler = (*Service)(nil)

// OnStreamStart marks the session live, opens a recognition stream for the
// call, and voices the queued greeting.
func (s *Service) OnStreamStart(sess *session.Session) {
	sess.SetStatus(domain.SessionActive)

	st, err := s.recog.NewStream(context.Background())
	if err != nil {
		s.log.Error("recognition stream unavailable",
			zap.String("session_id", sess.ID), zap.Error(err))
		s.finish(sess, domain.EndReasonError)
		return
	}
	s.mu.Lock()
	if old := s.recognizers[sess.ID]; old != nil {
		_ = old.Close()
	}
	s.recognizers[sess.ID] = st
	s.mu.Unlock()

	go s.pumpRecognition(sess, st)
	s.mgr.RefreshInactivity(sess)

	if greeting := sess.TakeGreeting(); greeting != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.speakNow(ctx, sess, greeting); err != nil {
				s.log.Warn("greeting not delivered",
					zap.String("session_id", sess.ID), zap.Error(err))
			}
		}()
	}
}

// OnMedia forwards caller audio to the recognizer untouched.
func (s *Service) OnMedia(sess *session.Session, payload []byte) {
	s.mu.Lock()
	st := s.recognizers[sess.ID]
	s.mu.Unlock()
	if st == nil {
		return
	}
	if err := st.Write(payload); err != nil {
		s.log.Debug("recognizer rejected audio",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// OnDTMF records keypad presses in the transcript so the controller can
// react to them on the next turn.
func (s *Service) OnDTMF(sess *session.Session, digit string) {
	sess.AppendTranscript(domain.SpeakerDTMF, digit)
	s.mgr.RefreshInactivity(sess)
}

func (s *Service) OnMark(sess *session.Session, name string) {
	s.log.Debug("playback marker acknowledged",
		zap.String("session_id", sess.ID), zap.String("mark", name))
	s.mgr.RefreshInactivity(sess)
}

// OnStreamStop releases the recognizer. The session itself stays up until a
// carrier webhook or the inactivity timer ends it, since carriers sometimes
// drop and re-establish the media socket mid-call.
func (s *Service) OnStreamStop(sess *session.Session) {
	s.closeRecognition(sess.ID)
	s.log.Debug("media stream detached", zap.String("session_id", sess.ID))
}

// pumpRecognition consumes recognizer events for one stream. Speech onset
// interrupts agent playback immediately; final transcripts go to both the
// durable transcript and the live channel the controller listens on.
func (s *Service) pumpRecognition(sess *session.Session, st speech.RecognitionStream) {
	for ev := range st.Events() {
		switch ev.Type {
		case speech.EventSpeechStarted:
			if sess.Speaker().Speaking() {
				sess.Speaker().Interrupt()
				s.log.Debug("barge-in detected", zap.String("session_id", sess.ID))
			}
		case speech.EventTranscript:
			if ev.Text == "" {
				continue
			}
			sess.AppendTranscript(domain.SpeakerHuman, ev.Text)
			sess.PushTranscript(ev.Text)
			s.mgr.RefreshInactivity(sess)
		}
	}
}

func (s *Service) closeRecognition(sessionID string) {
	s.mu.Lock()
	st := s.recognizers[sessionID]
	delete(s.recognizers, sessionID)
	s.mu.Unlock()
	if st != nil {
		_ = st.Close()
	}
}
