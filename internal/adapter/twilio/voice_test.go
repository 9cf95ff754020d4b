package twilio

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

func TestConnectStreamTwiML(t *testing.T) {
	got := connectStreamTwiML("wss://example.com/stream/twilio", "tok-123")
	assert.Contains(t, got, `<Connect><Stream url="wss://example.com/stream/twilio">`)
	assert.Contains(t, got, `<Parameter name="token" value="tok-123"/>`)
	assert.Contains(t, got, `</Stream></Connect></Response>`)
}

func TestConnectStreamTwiMLEscapesAttributes(t *testing.T) {
	got := connectStreamTwiML(`wss://example.com/s?a=1&b=2`, `to"k<en`)
	assert.Contains(t, got, "a=1&amp;b=2")
	assert.NotContains(t, got, `to"k<en`)
	assert.Contains(t, got, "to&#34;k&lt;en")
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://api.example.com", wsURL("https://api.example.com"))
	assert.Equal(t, "ws://localhost:8080", wsURL("http://localhost:8080"))
}

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA0123")
	form.Set("CallStatus", "no-answer")
	form.Set("SipResponseCode", "480")

	ev := ParseStatusCallback(form)
	assert.Equal(t, "CA0123", ev.CallID)
	assert.Equal(t, domain.CallNoAnswer, ev.Status)
	assert.Equal(t, "twilio", ev.Carrier)
	assert.Equal(t, "480", ev.Cause)
	assert.True(t, ev.Status.IsTerminalFailure())
}

func TestMapCallStatusUnknownIsEmpty(t *testing.T) {
	assert.Equal(t, domain.CallStatus(""), mapCallStatus("transmogrified"))
}

func TestParseChatWebhook(t *testing.T) {
	form := url.Values{}
	form.Set("ConversationSid", "CH0000000000000000000000000000000a")
	form.Set("MessageSid", "IM0000000000000000000000000000000b")
	form.Set("Author", "whatsapp:+15550001111")
	form.Set("Body", "hello there")

	msg := ParseChatWebhook(form)
	assert.Equal(t, "CH0000000000000000000000000000000a", msg.ConversationHandle)
	assert.Equal(t, "IM0000000000000000000000000000000b", msg.MessageHandle)
	assert.Equal(t, "whatsapp:+15550001111", msg.AuthorAddress)
	assert.Equal(t, "hello there", msg.Body)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"server error", &twilioclient.TwilioRestError{Status: 503, Message: "unavailable"}, true},
		{"rate limited", &twilioclient.TwilioRestError{Status: 429, Message: "slow down"}, true},
		{"bad request", &twilioclient.TwilioRestError{Status: 400, Message: "invalid to"}, false},
		{"unauthorized", &twilioclient.TwilioRestError{Status: 401, Message: "nope"}, false},
		{"network failure", fmt.Errorf("dial tcp: connection refused"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := classify("op", tc.err)
			assert.Error(t, wrapped)
			assert.Equal(t, tc.transient, errors.Is(wrapped, domain.ErrTransient))
		})
	}
}
