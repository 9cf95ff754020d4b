// Package twilio adapts the Twilio REST API to the engine's carrier
// boundaries: outbound calls with a media stream attached, call status
// parsing, and WhatsApp messaging through the Conversations API.
package twilio

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	twiliogo "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// VoiceConfig carries the credentials and addressing the voice adapter needs.
type VoiceConfig struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
	// RingTimeout bounds how long an unanswered call rings before the
	// carrier reports no-answer.
	RingTimeout time.Duration
}

// Voice places and tears down calls through the Twilio API.
type Voice struct {
	client *twiliogo.RestClient
	cfg    VoiceConfig
	log    *zap.Logger
}

// NewVoice creates the Twilio voice adapter.
func NewVoice(cfg VoiceConfig, log *zap.Logger) *Voice {
	client := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Voice{client: client, cfg: cfg, log: log}
}

// PlaceCall dials the phone and instructs Twilio to open a media stream back
// to us carrying the session's stream token. It returns the carrier call id.
// The Twilio SDK does not thread contexts, so ctx only bounds our own side.
func (v *Voice) PlaceCall(_ context.Context, toPhone, streamToken string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(toPhone)
	params.SetFrom(v.cfg.FromNumber)
	params.SetTwiml(connectStreamTwiML(wsURL(v.cfg.PublicBaseURL)+"/stream/twilio", streamToken))
	params.SetStatusCallback(v.cfg.PublicBaseURL + "/webhooks/voice/twilio")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	if v.cfg.RingTimeout > 0 {
		params.SetTimeout(int(v.cfg.RingTimeout.Seconds()))
	}

	resp, err := v.client.Api.CreateCall(params)
	if err != nil {
		return "", classify("create call", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("twilio: create call: response missing sid")
	}
	v.log.Info("call placed", zap.String("call_id", *resp.Sid))
	return *resp.Sid, nil
}

// HangupCall completes an in-flight call.
func (v *Voice) HangupCall(_ context.Context, callID string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := v.client.Api.UpdateCall(callID, params); err != nil {
		return classify("hangup call", err)
	}
	return nil
}

// ParseStatusCallback converts a Twilio status callback form into a carrier
// status event. Unknown statuses map to an empty Status and are ignored
// upstream.
func ParseStatusCallback(form url.Values) domain.CallStatusEvent {
	return domain.CallStatusEvent{
		CallID:  form.Get("CallSid"),
		Status:  mapCallStatus(form.Get("CallStatus")),
		Carrier: "twilio",
		Cause:   form.Get("SipResponseCode"),
	}
}

func mapCallStatus(s string) domain.CallStatus {
	switch s {
	case "queued":
		return domain.CallQueued
	case "initiated":
		return domain.CallInitiated
	case "ringing":
		return domain.CallRinging
	case "answered":
		return domain.CallAnswered
	case "in-progress":
		return domain.CallInProgress
	case "completed":
		return domain.CallCompleted
	case "busy":
		return domain.CallBusy
	case "failed":
		return domain.CallFailed
	case "no-answer":
		return domain.CallNoAnswer
	case "canceled":
		return domain.CallCanceled
	default:
		return ""
	}
}

// connectStreamTwiML answers the call with a bidirectional media stream and
// passes the session token as a custom parameter on the start frame.
func connectStreamTwiML(streamURL, token string) string {
	return fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"><Parameter name="token" value="%s"/></Stream></Connect></Response>`,
		xmlAttr(streamURL), xmlAttr(token))
}

func xmlAttr(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// wsURL rewrites the public HTTP base into its websocket scheme.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
