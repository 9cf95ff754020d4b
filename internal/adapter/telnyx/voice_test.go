package telnyx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

func testVoice(baseURL string) *Voice {
	return NewVoice(VoiceConfig{
		BaseURL:       baseURL,
		APIKey:        "key-123",
		ConnectionID:  "conn-1",
		FromNumber:    "+15550009999",
		PublicBaseURL: "https://agent.example.com",
		RingTimeout:   30 * time.Second,
	}, zap.NewNop())
}

func TestPlaceCall(t *testing.T) {
	var got createCallRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/calls" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-123" {
			t.Fatalf("unexpected Authorization header: %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"call_control_id":"cc-42"}}`)
	}))
	defer server.Close()

	callID, err := testVoice(server.URL).PlaceCall(context.Background(), "+15550001111", "tok-abc")
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if callID != "cc-42" {
		t.Fatalf("unexpected call id: %q", callID)
	}
	if got.To != "+15550001111" || got.From != "+15550009999" || got.ConnectionID != "conn-1" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if got.StreamURL != "wss://agent.example.com/stream/telnyx" {
		t.Fatalf("unexpected stream url: %q", got.StreamURL)
	}
	if got.WebhookURL != "https://agent.example.com/webhooks/voice/telnyx" {
		t.Fatalf("unexpected webhook url: %q", got.WebhookURL)
	}
	if got.TimeoutSecs != 30 {
		t.Fatalf("unexpected timeout_secs: %d", got.TimeoutSecs)
	}
	state, err := base64.StdEncoding.DecodeString(got.ClientState)
	if err != nil || string(state) != "tok-abc" {
		t.Fatalf("client_state should carry the stream token, got %q", got.ClientState)
	}
}

func TestPlaceCallAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"errors":[{"code":"10015","title":"Invalid number","detail":"to is malformed"}]}`)
	}))
	defer server.Close()

	_, err := testVoice(server.URL).PlaceCall(context.Background(), "bogus", "tok")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrTransient) {
		t.Fatalf("422 should be terminal, got transient: %v", err)
	}
}

func TestPlaceCallServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testVoice(server.URL).PlaceCall(context.Background(), "+15550001111", "tok")
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got: %v", err)
	}
}

func TestHangupCall(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"result":"ok"}}`)
	}))
	defer server.Close()

	if err := testVoice(server.URL).HangupCall(context.Background(), "cc-42"); err != nil {
		t.Fatalf("HangupCall failed: %v", err)
	}
	if gotPath != "/v2/calls/cc-42/actions/hangup" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
}

func TestParseWebhook(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		status domain.CallStatus
		cause  string
	}{
		{
			name:   "answered",
			body:   `{"data":{"event_type":"call.answered","payload":{"call_control_id":"cc-1"}}}`,
			status: domain.CallAnswered,
		},
		{
			name:   "hangup busy",
			body:   `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"cc-1","hangup_cause":"user_busy"}}}`,
			status: domain.CallBusy,
			cause:  "user_busy",
		},
		{
			name:   "hangup normal",
			body:   `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"cc-1","hangup_cause":"normal_clearing"}}}`,
			status: domain.CallCompleted,
			cause:  "normal_clearing",
		},
		{
			name:   "hangup timeout",
			body:   `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"cc-1","hangup_cause":"timeout"}}}`,
			status: domain.CallNoAnswer,
			cause:  "timeout",
		},
		{
			name:   "unrelated event ignored",
			body:   `{"data":{"event_type":"call.dtmf.received","payload":{"call_control_id":"cc-1"}}}`,
			status: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseWebhook([]byte(tc.body))
			if err != nil {
				t.Fatalf("ParseWebhook failed: %v", err)
			}
			if ev.CallID != "cc-1" {
				t.Fatalf("unexpected call id: %q", ev.CallID)
			}
			if ev.Status != tc.status {
				t.Fatalf("status = %q, want %q", ev.Status, tc.status)
			}
			if ev.Cause != tc.cause {
				t.Fatalf("cause = %q, want %q", ev.Cause, tc.cause)
			}
			if ev.Carrier != "telnyx" {
				t.Fatalf("carrier = %q", ev.Carrier)
			}
		})
	}
}

func TestParseWebhookMalformed(t *testing.T) {
	if _, err := ParseWebhook([]byte("{not json")); err == nil {
		t.Fatal("expected error")
	}
}
