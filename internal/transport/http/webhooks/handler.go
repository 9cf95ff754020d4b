// Package webhooks terminates the public carrier callback surface. Every
// request is signature-checked before any parsing, and the responses are
// uniform: 401 empty on any authentication failure, 429 empty when rate
// limited, 200 empty otherwise whether or not the payload meant anything,
// so a caller probing the endpoint learns nothing about live sessions.
package webhooks

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/telnyx"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/twilio"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/signature"
)

// Handler verifies and dispatches carrier webhooks.
type Handler struct {
	svc     *service.Service
	baseURL string
	twilio  *signature.TwilioVerifier
	// telnyx is nil unless the Telnyx carrier is configured; its routes are
	// not registered in that case.
	telnyx *signature.TelnyxVerifier
	log    *zap.Logger
}

// NewHandler creates the webhook handler. baseURL must be the public base
// the carriers were given, since the Twilio signature covers the exact
// callback URL.
func NewHandler(svc *service.Service, baseURL string, tw *signature.TwilioVerifier, tx *signature.TelnyxVerifier, log *zap.Logger) *Handler {
	return &Handler{svc: svc, baseURL: baseURL, twilio: tw, telnyx: tx, log: log}
}

// RegisterRoutes registers the webhook routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/voice/twilio", h.TwilioVoiceStatus)
	e.POST("/webhooks/chat", h.ChatMessage)
	if h.telnyx != nil {
		e.POST("/webhooks/voice/telnyx", h.TelnyxVoice)
	}
}

// verifyTwilio reconstructs the signed URL and checks the request signature
// against the posted form. An unparseable body yields an empty parameter
// set, which can never match the signature.
func (h *Handler) verifyTwilio(c echo.Context) (url.Values, bool) {
	req := c.Request()
	_ = req.ParseForm()

	params := make(map[string]string, len(req.PostForm))
	for k, v := range req.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	signedURL := h.baseURL + req.URL.RequestURI()
	sig := req.Header.Get("X-Twilio-Signature")
	if err := h.twilio.Verify(signedURL, params, sig); err != nil {
		h.log.Warn("rejected twilio webhook", zap.String("path", req.URL.Path), zap.Error(err))
		return nil, false
	}
	return req.PostForm, true
}

// TwilioVoiceStatus handles call progress callbacks.
// POST /webhooks/voice/twilio
func (h *Handler) TwilioVoiceStatus(c echo.Context) error {
	form, ok := h.verifyTwilio(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}

	ev := twilio.ParseStatusCallback(form)
	if ev.CallID == "" {
		return c.NoContent(http.StatusOK)
	}
	h.svc.HandleCallStatus(c.Request().Context(), ev)
	return c.NoContent(http.StatusOK)
}

// ChatMessage handles inbound conversation messages.
// POST /webhooks/chat
func (h *Handler) ChatMessage(c echo.Context) error {
	form, ok := h.verifyTwilio(c)
	if !ok {
		return c.NoContent(http.StatusUnauthorized)
	}

	// The conversation service reports every event type here, including
	// echoes of our own outbound messages. Only message additions matter,
	// and the author check downstream drops the echoes.
	if et := form.Get("EventType"); et != "" && et != "onMessageAdded" {
		return c.NoContent(http.StatusOK)
	}

	msg := twilio.ParseChatWebhook(form)
	if err := h.svc.HandleChatMessage(c.Request().Context(), msg); err != nil {
		if errors.Is(err, service.ErrRateLimited) {
			return c.NoContent(http.StatusTooManyRequests)
		}
		h.log.Warn("chat webhook processing failed", zap.Error(err))
	}
	return c.NoContent(http.StatusOK)
}

// TelnyxVoice handles call control events.
// POST /webhooks/voice/telnyx
func (h *Handler) TelnyxVoice(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusUnauthorized)
	}

	sig := c.Request().Header.Get("telnyx-signature-ed25519")
	ts := c.Request().Header.Get("telnyx-timestamp")
	if err := h.telnyx.Verify(sig, ts, body, time.Now()); err != nil {
		h.log.Warn("rejected telnyx webhook", zap.Error(err))
		return c.NoContent(http.StatusUnauthorized)
	}

	ev, err := telnyx.ParseWebhook(body)
	if err != nil || ev.CallID == "" {
		return c.NoContent(http.StatusOK)
	}
	h.svc.HandleCallStatus(c.Request().Context(), ev)
	return c.NoContent(http.StatusOK)
}
