package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/chat"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/store"
)

const (
	defaultListenTimeout = 15 * time.Second
	maxListenTimeout     = 2 * time.Minute
)

// CreateSessionRequest is the request to open a session.
type CreateSessionRequest struct {
	PhoneNumber string `json:"phone_number"`
	Greeting    string `json:"greeting,omitempty"`
	// Mode selects the starting sub-pipeline, "voice" by default.
	Mode string `json:"mode,omitempty"`
	// FirstMessage seeds a chat-mode session; it falls back to Greeting.
	FirstMessage string `json:"first_message,omitempty"`
}

// CreateSession opens a session and starts the outbound flow.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if !chat.ValidPhone(req.PhoneNumber) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "phone_number must be E.164"})
	}

	mode := req.Mode
	if mode == "" {
		mode = string(domain.ModeVoice)
	}

	ctx := c.Request().Context()
	var (
		sess *session.Session
		err  error
	)
	switch domain.Mode(mode) {
	case domain.ModeVoice:
		sess, err = h.svc.InitiateCall(ctx, req.PhoneNumber, req.Greeting)
	case domain.ModeChat:
		first := req.FirstMessage
		if first == "" {
			first = req.Greeting
		}
		sess, err = h.svc.StartChat(ctx, req.PhoneNumber, first)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "mode must be voice or chat"})
	}
	if err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			return c.NoContent(http.StatusTooManyRequests)
		}
		if errors.Is(err, service.ErrPolicyDenied) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "destination not allowed"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, sessionSummary(sess))
}

// ListSessions lists every live session.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions := h.svc.ListSessions()
	list := make([]map[string]interface{}, len(sessions))
	for i, s := range sessions {
		list[i] = sessionSummary(s)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": list,
	})
}

// GetSession returns one live session with its transcript so far.
// GET /v1/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	sess, ok := h.svc.GetSession(c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	out := sessionSummary(sess)
	out["transcript"] = sess.Transcript()
	return c.JSON(http.StatusOK, withChatWindow(sess, out))
}

// SpeakRequest carries the text to deliver.
type SpeakRequest struct {
	Text string `json:"text"`
}

// Speak delivers text without waiting for a reply: voiced on a call, sent
// as a message in chat. A voice request while a previous utterance is
// playing interrupts it.
// POST /v1/sessions/:session_id/speak
func (h *Handler) Speak(c echo.Context) error {
	var req SpeakRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}

	sess, ok := h.svc.GetSession(c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	if sess.Mode() == domain.ModeChat {
		if err := h.svc.SendChat(c.Request().Context(), sess.ID, req.Text); err != nil {
			return h.chatError(c, err)
		}
		return c.JSON(http.StatusOK, withChatWindow(sess, map[string]interface{}{
			"ok":   true,
			"mode": domain.ModeChat,
		}))
	}

	if err := h.svc.Speak(c.Request().Context(), sess.ID, req.Text); err != nil {
		return h.voiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":   true,
		"mode": domain.ModeVoice,
	})
}

// ContinueRequest is one conversation turn: text to deliver, and for voice
// sessions how long to listen for the answer.
type ContinueRequest struct {
	Text            string `json:"text,omitempty"`
	ListenTimeoutMS int    `json:"listen_timeout_ms,omitempty"`
}

// Continue advances the conversation one turn in whichever mode the session
// is in. Voice: speak the text, then block until the human answers, the
// call ends, or the listen timeout passes. Chat: send the text, then drain
// the messages received since the last turn.
// POST /v1/sessions/:session_id/continue
func (h *Handler) Continue(c echo.Context) error {
	var req ContinueRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sess, ok := h.svc.GetSession(c.Param("session_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	if sess.Mode() == domain.ModeChat {
		received, err := h.svc.ChatTurn(c.Request().Context(), sess.ID, req.Text)
		if err != nil {
			return h.chatError(c, err)
		}
		if received == nil {
			received = []string{}
		}
		return c.JSON(http.StatusOK, withChatWindow(sess, map[string]interface{}{
			"mode":     domain.ModeChat,
			"received": received,
		}))
	}

	timeout := defaultListenTimeout
	if req.ListenTimeoutMS > 0 {
		timeout = time.Duration(req.ListenTimeoutMS) * time.Millisecond
	}
	if timeout > maxListenTimeout {
		timeout = maxListenTimeout
	}

	heard, err := h.svc.ConverseTurn(c.Request().Context(), sess.ID, req.Text, timeout)
	switch {
	case errors.Is(err, service.ErrListenTimeout):
		return c.JSON(http.StatusOK, map[string]interface{}{
			"mode":      domain.ModeVoice,
			"heard":     "",
			"timed_out": true,
		})
	case errors.Is(err, service.ErrHungUp):
		return c.JSON(http.StatusGone, map[string]string{"error": "call ended"})
	case err != nil:
		return h.voiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"mode":  domain.ModeVoice,
		"heard": heard,
	})
}

// EndSessionRequest optionally names the reason and a farewell to deliver.
type EndSessionRequest struct {
	Reason   string `json:"reason,omitempty"`
	Farewell string `json:"farewell,omitempty"`
}

// EndSession tears a session down, delivering the farewell first when one
// is given.
// POST /v1/sessions/:session_id/end
// DELETE /v1/sessions/:session_id
func (h *Handler) EndSession(c echo.Context) error {
	var req EndSessionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		}
	}

	reason := domain.EndReasonRequested
	if req.Reason != "" {
		reason = domain.EndReason(req.Reason)
	}

	err := h.svc.EndSession(c.Request().Context(), c.Param("session_id"), reason, req.Farewell)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			// DELETE is idempotent; deleting an already gone session succeeds.
			if c.Request().Method == http.MethodDelete {
				return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
			}
			return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// GetRecord returns the persisted conversation record while its retention
// window lasts.
// GET /v1/records/:session_id
func (h *Handler) GetRecord(c echo.Context) error {
	rec, err := h.svc.GetRecord(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "record not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, rec)
}

// voiceError maps the engine's voice sentinels onto HTTP statuses.
func (h *Handler) voiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, service.ErrWrongMode):
		return c.JSON(http.StatusConflict, map[string]string{"error": "session is not in voice mode"})
	case errors.Is(err, service.ErrNoStream):
		return c.JSON(http.StatusConflict, map[string]string{"error": "no media stream attached yet"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// chatError maps the engine's chat sentinels onto HTTP statuses.
func (h *Handler) chatError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	case errors.Is(err, service.ErrWrongMode):
		return c.JSON(http.StatusConflict, map[string]string{"error": "session is not in chat mode"})
	case errors.Is(err, service.ErrNoConversation):
		return c.JSON(http.StatusConflict, map[string]string{"error": "no conversation bound yet"})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func sessionSummary(s *session.Session) map[string]interface{} {
	return map[string]interface{}{
		"session_id":       s.ID,
		"mode":             s.Mode(),
		"status":           s.Status(),
		"started_at":       s.StartedAt().UnixMilli(),
		"last_activity_at": s.LastActivity().UnixMilli(),
	}
}

// withChatWindow adds the messaging window fields when a window is open.
func withChatWindow(s *session.Session, body map[string]interface{}) map[string]interface{} {
	if exp := s.ChatExpiry(); !exp.IsZero() {
		remaining := time.Until(exp).Milliseconds()
		if remaining < 0 {
			remaining = 0
		}
		body["chat_window_expires_at"] = exp.UnixMilli()
		body["chat_window_remaining_ms"] = remaining
	}
	return body
}
