package signature_test

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twilioSign reproduces the carrier-side signing: HMAC-SHA1 over the URL
// concatenated with sorted key+value pairs, Base64.
func twilioSign(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := url
	for _, k := range keys {
		payload += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioVerifier(t *testing.T) {
	const token = "c0ffee00c0ffee00c0ffee00c0ffee00"
	url := "https://example.com/webhooks/voice/twilio"
	params := map[string]string{
		"CallSid":    "CA00000000000000000000000000000001",
		"CallStatus": "no-answer",
	}

	v, err := signature.NewTwilioVerifier(token)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.Verify(url, params, twilioSign(token, url, params)))
	})

	t.Run("tampered parameter", func(t *testing.T) {
		sig := twilioSign(token, url, params)
		bad := map[string]string{
			"CallSid":    "CA00000000000000000000000000000002",
			"CallStatus": "no-answer",
		}
		assert.ErrorIs(t, v.Verify(url, bad, sig), signature.ErrInvalidSignature)
	})

	t.Run("wrong URL", func(t *testing.T) {
		sig := twilioSign(token, url, params)
		err := v.Verify("https://example.com/other", params, sig)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(url, params, ""), signature.ErrMissingSignature)
	})
}

func TestTwilioVerifierRequiresSecret(t *testing.T) {
	_, err := signature.NewTwilioVerifier("")
	assert.ErrorIs(t, err, signature.ErrMissingKey)
}

func TestTelnyxVerifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v, err := signature.NewTelnyxVerifier(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)

	now := time.Now()
	body := []byte(`{"data":{"event_type":"call.answered"}}`)

	sign := func(ts string) string {
		msg := append([]byte(ts+"."), body...)
		return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	}

	t.Run("valid", func(t *testing.T) {
		ts := timestamp(now)
		assert.NoError(t, v.Verify(sign(ts), ts, body, now))
	})

	t.Run("stale timestamp", func(t *testing.T) {
		ts := timestamp(now.Add(-6 * time.Minute))
		assert.ErrorIs(t, v.Verify(sign(ts), ts, body, now), signature.ErrStaleTimestamp)
	})

	t.Run("future timestamp", func(t *testing.T) {
		ts := timestamp(now.Add(6 * time.Minute))
		assert.ErrorIs(t, v.Verify(sign(ts), ts, body, now), signature.ErrStaleTimestamp)
	})

	t.Run("tampered body", func(t *testing.T) {
		ts := timestamp(now)
		err := v.Verify(sign(ts), ts, []byte(`{"data":{}}`), now)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("missing headers", func(t *testing.T) {
		ts := timestamp(now)
		assert.ErrorIs(t, v.Verify("", ts, body, now), signature.ErrMissingSignature)
		assert.ErrorIs(t, v.Verify(sign(ts), "", body, now), signature.ErrMissingSignature)
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		err := v.Verify(sign("notanumber"), "notanumber", body, now)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})
}

func TestTelnyxVerifierKeyValidation(t *testing.T) {
	_, err := signature.NewTelnyxVerifier("")
	assert.ErrorIs(t, err, signature.ErrMissingKey)

	_, err = signature.NewTelnyxVerifier("%%%not-base64%%%")
	assert.Error(t, err)

	_, err = signature.NewTelnyxVerifier(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
