package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/audio"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
)

// Speak voices text on the session's live call. Calling it while a previous
// utterance is still playing interrupts that utterance and plays the new one.
func (s *Service) Speak(ctx context.Context, sessionID, text string) error {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return session.ErrUnknownSession
	}
	if sess.Mode() != domain.ModeVoice {
		return ErrWrongMode
	}
	return s.speakNow(ctx, sess, text)
}

func (s *Service) speakNow(ctx context.Context, sess *session.Session, text string) error {
	track := sess.Track()
	if track == nil {
		return ErrNoStream
	}

	for attempt := 0; ; attempt++ {
		pcm, err := s.synth.Synthesize(ctx, text)
		if err != nil {
			return fmt.Errorf("service: synthesize: %w", err)
		}
		interrupted, err := sess.Speaker().Speak(ctx, pcm, track)
		pcm.Close()

		if errors.Is(err, audio.ErrAlreadySpeaking) && attempt == 0 {
			sess.Speaker().Interrupt()
			if !waitNotSpeaking(sess.Speaker(), time.Second) {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("service: speak: %w", err)
		}

		sess.AppendTranscript(domain.SpeakerAgent, text)
		s.mgr.RefreshInactivity(sess)
		if interrupted {
			s.log.Debug("utterance interrupted by caller",
				zap.String("session_id", sess.ID))
		}
		return nil
	}
}

// waitNotSpeaking polls until the speaker releases or the deadline passes.
// Interrupt guarantees release, so the deadline is a backstop only.
func waitNotSpeaking(sp *audio.Speaker, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !sp.Speaking() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return !sp.Speaking()
}

// Listen blocks until the caller says something, the call hangs up, or the
// timeout passes. A transcript that arrived before a concurrent hangup wins.
func (s *Service) Listen(ctx context.Context, sessionID string, timeout time.Duration) (string, error) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return "", session.ErrUnknownSession
	}
	if sess.Mode() != domain.ModeVoice {
		return "", ErrWrongMode
	}

	select {
	case text := <-sess.Transcripts():
		s.mgr.RefreshInactivity(sess)
		return text, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case text := <-sess.Transcripts():
		s.mgr.RefreshInactivity(sess)
		return text, nil
	case <-sess.Hangup():
		return "", ErrHungUp
	case <-timer.C:
		return "", ErrListenTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConverseTurn speaks the agent's line and waits for the caller's answer.
func (s *Service) ConverseTurn(ctx context.Context, sessionID, say string, listenFor time.Duration) (string, error) {
	sess, ok := s.mgr.Get(sessionID)
	if !ok {
		return "", session.ErrUnknownSession
	}
	if sess.Mode() != domain.ModeVoice {
		return "", ErrWrongMode
	}
	if say != "" {
		if err := s.speakNow(ctx, sess, say); err != nil {
			return "", err
		}
	}
	if listenFor <= 0 {
		return "", nil
	}
	return s.Listen(ctx, sessionID, listenFor)
}
