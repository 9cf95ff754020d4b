package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// HandleCallStatus applies one carrier status event. The handler is
// idempotent: replays and duplicates either repeat a no-op or resolve to a
// session that is already gone. Events for unknown calls are dropped so the
// webhook response stays indistinguishable from success.
func (s *Service) HandleCallStatus(_ context.Context, ev domain.CallStatusEvent) {
	if ev.Status == "" {
		s.log.Debug("ignoring unmapped call status", zap.String("call_id", ev.CallID))
		return
	}
	sess, ok := s.mgr.GetByCall(ev.CallID)
	if !ok {
		s.log.Debug("call status for unknown call",
			zap.String("call_id", ev.CallID), zap.String("status", string(ev.Status)))
		return
	}

	s.log.Info("call status",
		zap.String("session_id", sess.ID),
		zap.String("call_id", ev.CallID),
		zap.String("status", string(ev.Status)),
		zap.String("carrier", ev.Carrier))

	switch {
	case ev.Status == domain.CallAnswered || ev.Status == domain.CallInProgress:
		// Connected means the media stream attached, not merely answered;
		// the dial loop keeps waiting for the socket. This is still
		// activity worth refreshing the timer for.
		if sess.Status() == domain.SessionActive {
			s.mgr.RefreshInactivity(sess)
		}

	case ev.Status.IsTerminalFailure():
		switch sess.Status() {
		case domain.SessionConnecting:
			sess.NotifyCallEvent(ev)
		case domain.SessionActive:
			// The established leg died underneath us.
			s.finish(sess, domain.EndReasonError)
		}

	case ev.Status.IsHangup():
		switch sess.Status() {
		case domain.SessionConnecting:
			// Answered and ended before any media stream: counts as a
			// failed attempt.
			sess.NotifyCallEvent(ev)
		case domain.SessionActive:
			if sess.Mode() == domain.ModeVoice {
				s.finish(sess, domain.EndReasonHangup)
			}
		}
	}
}
