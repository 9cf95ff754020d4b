package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/adapter/speech"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/config"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/ratelimit"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/service"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/session"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/tests/helpers"
)

const testToken = "control-token-for-tests"

type quietVoice struct{}

func (quietVoice) PlaceCall(context.Context, string, string) (string, error) { return "CA1", nil }
func (quietVoice) HangupCall(context.Context, string) error                  { return nil }

type quietMessenger struct{}

func (quietMessenger) CreateConversation(context.Context, string) (string, error) {
	return "CH" + strings.Repeat("0", 31) + "1", nil
}
func (quietMessenger) AddParticipant(context.Context, string, string) error { return nil }
func (quietMessenger) SendMessage(context.Context, string, string) (string, error) {
	return "IM" + strings.Repeat("0", 31) + "1", nil
}
func (quietMessenger) SendTemplate(context.Context, string, string, map[string]string) (string, error) {
	return "IM" + strings.Repeat("0", 31) + "2", nil
}

func newTestServer(t *testing.T) (*echo.Echo, *session.Manager) {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		CallAttempts:      1,
		ConnectTimeout:    100 * time.Millisecond,
		InactivityTimeout: time.Minute,
		ChatWindow:        time.Hour,
		ChatWarningBefore: time.Minute,
	}
	mgr := session.NewManager(session.Config{
		InactivityTimeout: cfg.InactivityTimeout,
		ChatWindow:        cfg.ChatWindow,
		ChatWarningBefore: cfg.ChatWarningBefore,
	}, log)
	lim := ratelimit.New(ratelimit.Config{})
	t.Cleanup(lim.Close)

	svc := service.New(cfg, service.Deps{
		Manager:    mgr,
		Store:      helpers.NewTestStore(t),
		Limiter:    lim,
		Voice:      quietVoice{},
		Messenger:  quietMessenger{},
		Synth:      speech.NewMockSynthesizer(),
		Recognizer: speech.NewMockRecognizer(),
	}, log)

	e := echo.New()
	NewHandler(svc, testToken, log).RegisterRoutes(e)
	return e, mgr
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	e, _ := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "not-the-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, "/v1/sessions", "", tc.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if rec.Body.Len() != 0 {
				t.Fatalf("expected empty body, got %q", rec.Body.String())
			}
		})
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateChatSession(t *testing.T) {
	e, mgr := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/sessions",
		`{"phone_number":"+15550001111","mode":"chat","first_message":"Hi!"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
		Mode      string `json:"mode"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "chat" || resp.Status != "active" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := mgr.Get(resp.SessionID); !ok {
		t.Fatal("created session not registered")
	}
}

func TestCreateSessionRejectsBadPhone(t *testing.T) {
	e, _ := newTestServer(t)

	for _, phone := range []string{"", "5550001111", "+1-555-000-1111", "+0123456"} {
		rec := do(e, http.MethodPost, "/v1/sessions",
			`{"phone_number":"`+phone+`"}`, testToken)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("phone %q: expected 400, got %d", phone, rec.Code)
		}
	}
}

func TestCreateVoiceSessionDefaultsMode(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/sessions",
		`{"phone_number":"+15550001111","greeting":"Hello!"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Mode != "voice" {
		t.Fatalf("expected voice mode, got %q", resp.Mode)
	}
}

func TestSpeakOnChatWithoutConversationConflicts(t *testing.T) {
	e, mgr := newTestServer(t)
	sess := mgr.Create(domain.ModeChat)

	rec := do(e, http.MethodPost, "/v1/sessions/"+sess.ID+"/speak",
		`{"text":"hello"}`, testToken)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSpeakOnChatSessionSendsMessage(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/sessions",
		`{"phone_number":"+15550001111","mode":"chat"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", rec.Code)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = do(e, http.MethodPost, "/v1/sessions/"+created.SessionID+"/speak",
		`{"text":"Running ten minutes late."}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("speak: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		OK   bool   `json:"ok"`
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK || resp.Mode != "chat" {
		t.Fatalf("ok=%v mode=%q", resp.OK, resp.Mode)
	}
}

func TestSpeakBeforeStreamConflicts(t *testing.T) {
	e, mgr := newTestServer(t)
	sess := mgr.Create(domain.ModeVoice)

	rec := do(e, http.MethodPost, "/v1/sessions/"+sess.ID+"/speak",
		`{"text":"hello"}`, testToken)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSpeakUnknownSession404(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodPost, "/v1/sessions/sess_missing/speak",
		`{"text":"hello"}`, testToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestContinueChatRoundTrip(t *testing.T) {
	e, mgr := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/sessions",
		`{"phone_number":"+15550001111","mode":"chat"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", rec.Code)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	sess, ok := mgr.Get(created.SessionID)
	if !ok {
		t.Fatal("session missing")
	}
	mgr.OpenChatWindow(sess)
	sess.PushInbox("what time works?")

	rec = do(e, http.MethodPost, "/v1/sessions/"+created.SessionID+"/continue",
		`{"text":"How about 3pm?"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("continue: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var turn struct {
		Mode        string   `json:"mode"`
		Received    []string `json:"received"`
		RemainingMS int64    `json:"chat_window_remaining_ms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if turn.Mode != "chat" {
		t.Fatalf("mode = %q", turn.Mode)
	}
	if len(turn.Received) != 1 || turn.Received[0] != "what time works?" {
		t.Fatalf("received = %v", turn.Received)
	}
	if turn.RemainingMS <= 0 {
		t.Fatalf("chat_window_remaining_ms = %d", turn.RemainingMS)
	}
}

func TestContinueOnVoiceBeforeStreamConflicts(t *testing.T) {
	e, mgr := newTestServer(t)
	sess := mgr.Create(domain.ModeVoice)

	rec := do(e, http.MethodPost, "/v1/sessions/"+sess.ID+"/continue",
		`{"text":"hello"}`, testToken)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetSessionIncludesTranscript(t *testing.T) {
	e, mgr := newTestServer(t)
	sess := mgr.Create(domain.ModeVoice)
	sess.AppendTranscript(domain.SpeakerAgent, "Hello there")

	rec := do(e, http.MethodGet, "/v1/sessions/"+sess.ID, "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Transcript []domain.TranscriptEntry `json:"transcript"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Transcript) != 1 || resp.Transcript[0].Text != "Hello there" {
		t.Fatalf("transcript = %+v", resp.Transcript)
	}
}

func TestEndSessionWithFarewell(t *testing.T) {
	e, mgr := newTestServer(t)

	rec := do(e, http.MethodPost, "/v1/sessions",
		`{"phone_number":"+15550001111","mode":"chat"}`, testToken)
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = do(e, http.MethodPost, "/v1/sessions/"+created.SessionID+"/end",
		`{"farewell":"Thanks, bye!"}`, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := mgr.Get(created.SessionID); ok {
		t.Fatal("session should be gone")
	}

	// The record endpoint still serves the ended session.
	rec = do(e, http.MethodGet, "/v1/records/"+created.SessionID, "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("record: expected 200, got %d", rec.Code)
	}
	var record domain.ConversationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.SessionID != created.SessionID {
		t.Fatalf("record session = %q", record.SessionID)
	}
}

func TestDeleteSessionEndsIt(t *testing.T) {
	e, mgr := newTestServer(t)
	sess := mgr.Create(domain.ModeVoice)

	rec := do(e, http.MethodDelete, "/v1/sessions/"+sess.ID, "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := mgr.Get(sess.ID); ok {
		t.Fatal("session should be gone")
	}

	// Deleting again succeeds; DELETE is idempotent.
	rec = do(e, http.MethodDelete, "/v1/sessions/"+sess.ID, "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat delete: expected 200, got %d", rec.Code)
	}
}

func TestGetRecordMissing404(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/v1/records/sess_missing", "", testToken)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListSessions(t *testing.T) {
	e, mgr := newTestServer(t)
	mgr.Create(domain.ModeVoice)
	mgr.Create(domain.ModeChat)

	rec := do(e, http.MethodGet, "/v1/sessions", "", testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(resp.Sessions))
	}
}
