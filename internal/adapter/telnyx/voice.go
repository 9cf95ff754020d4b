// Package telnyx adapts the Telnyx Call Control v2 API to the engine's
// voice-carrier boundary. Telnyx has no official Go SDK, so this is a thin
// REST client: outbound call creation with bidirectional media streaming,
// hangup actions, and webhook envelope parsing.
package telnyx

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// DefaultBaseURL is the production Telnyx API endpoint.
const DefaultBaseURL = "https://api.telnyx.com"

// VoiceConfig carries the credentials and addressing the adapter needs.
type VoiceConfig struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL       string
	APIKey        string
	ConnectionID  string
	FromNumber    string
	PublicBaseURL string
	RingTimeout   time.Duration
}

// Voice places and tears down calls through the Telnyx API.
type Voice struct {
	cfg        VoiceConfig
	httpClient *http.Client
	log        *zap.Logger
}

// NewVoice creates the Telnyx voice adapter.
func NewVoice(cfg VoiceConfig, log *zap.Logger) *Voice {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Voice{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

type createCallRequest struct {
	To                       string `json:"to"`
	From                     string `json:"from"`
	ConnectionID             string `json:"connection_id"`
	TimeoutSecs              int    `json:"timeout_secs,omitempty"`
	WebhookURL               string `json:"webhook_url,omitempty"`
	StreamURL                string `json:"stream_url,omitempty"`
	StreamTrack              string `json:"stream_track,omitempty"`
	StreamBidirectionalMode  string `json:"stream_bidirectional_mode,omitempty"`
	StreamBidirectionalCodec string `json:"stream_bidirectional_codec,omitempty"`
	// ClientState is echoed base64-encoded in every webhook and on the
	// media stream's start message; it carries the session's stream token.
	ClientState string `json:"client_state,omitempty"`
}

type createCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

// PlaceCall dials the phone with media streaming armed. The stream token
// travels as client_state so the socket can be authenticated before any
// audio is processed.
func (v *Voice) PlaceCall(ctx context.Context, toPhone, streamToken string) (string, error) {
	req := createCallRequest{
		To:                       toPhone,
		From:                     v.cfg.FromNumber,
		ConnectionID:             v.cfg.ConnectionID,
		WebhookURL:               v.cfg.PublicBaseURL + "/webhooks/voice/telnyx",
		StreamURL:                wsURL(v.cfg.PublicBaseURL) + "/stream/telnyx",
		StreamTrack:              "inbound_track",
		StreamBidirectionalMode:  "rtp",
		StreamBidirectionalCodec: "PCMU",
		ClientState:              base64.StdEncoding.EncodeToString([]byte(streamToken)),
	}
	if v.cfg.RingTimeout > 0 {
		req.TimeoutSecs = int(v.cfg.RingTimeout.Seconds())
	}

	var resp createCallResponse
	if err := v.post(ctx, "/v2/calls", req, &resp); err != nil {
		return "", fmt.Errorf("telnyx: create call: %w", err)
	}
	if resp.Data.CallControlID == "" {
		return "", fmt.Errorf("telnyx: create call: response missing call_control_id")
	}
	v.log.Info("call placed", zap.String("call_id", resp.Data.CallControlID))
	return resp.Data.CallControlID, nil
}

// HangupCall issues the hangup action for an in-flight call.
func (v *Voice) HangupCall(ctx context.Context, callID string) error {
	if err := v.post(ctx, "/v2/calls/"+callID+"/actions/hangup", struct{}{}, nil); err != nil {
		return fmt.Errorf("telnyx: hangup call: %w", err)
	}
	return nil
}

type apiErrorResponse struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (v *Voice) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+v.cfg.APIKey)

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w: %w", domain.ErrTransient, err)
	}

	if resp.StatusCode >= 300 {
		apiErr := fmt.Errorf("api error [%d]: %s", resp.StatusCode, errorSummary(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", domain.ErrTransient, apiErr)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func errorSummary(body []byte) string {
	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && len(errResp.Errors) > 0 {
		e := errResp.Errors[0]
		return fmt.Sprintf("%s: %s (code %s)", e.Title, e.Detail, e.Code)
	}
	return string(body)
}

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
