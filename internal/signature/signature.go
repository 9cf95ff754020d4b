// Package signature validates that inbound webhooks originated from the
// configured carrier. Two schemes are supported side by side: the Twilio
// HMAC over the exact callback URL plus sorted form parameters, and the
// Telnyx Ed25519 signature over "timestamp.rawBody" with a replay window.
// Verification failures map to 401 with an empty body at the HTTP layer;
// the error values here stay internal.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twilio/twilio-go/client"
)

// ReplayWindow is how far a signed timestamp may drift from now.
const ReplayWindow = 5 * time.Minute

var (
	ErrMissingKey       = errors.New("signature: verification key not configured")
	ErrMissingSignature = errors.New("signature: missing signature header")
	ErrInvalidSignature = errors.New("signature: invalid signature")
	ErrStaleTimestamp   = errors.New("signature: timestamp outside replay window")
)

// TwilioVerifier checks the X-Twilio-Signature header scheme. The underlying
// SDK validator compares in constant time.
type TwilioVerifier struct {
	validator client.RequestValidator
}

// NewTwilioVerifier fails when the shared secret is absent; a missing key is
// a fatal configuration error, never a runtime bypass.
func NewTwilioVerifier(authToken string) (*TwilioVerifier, error) {
	if authToken == "" {
		return nil, ErrMissingKey
	}
	return &TwilioVerifier{validator: client.NewRequestValidator(authToken)}, nil
}

// Verify checks sig against the fully-reconstructed public webhook URL and
// the posted form parameters.
func (v *TwilioVerifier) Verify(url string, params map[string]string, sig string) error {
	if sig == "" {
		return ErrMissingSignature
	}
	if !v.validator.Validate(url, params, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// TelnyxVerifier checks the telnyx-signature-ed25519/telnyx-timestamp header
// pair.
type TelnyxVerifier struct {
	publicKey ed25519.PublicKey
	window    time.Duration
}

// NewTelnyxVerifier takes the Base64-encoded Ed25519 public key.
func NewTelnyxVerifier(publicKeyB64 string) (*TelnyxVerifier, error) {
	if publicKeyB64 == "" {
		return nil, ErrMissingKey
	}
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("signature: decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signature: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return &TelnyxVerifier{publicKey: ed25519.PublicKey(raw), window: ReplayWindow}, nil
}

// Verify checks the signature over "timestamp.body" and rejects timestamps
// outside the replay window on either side of now.
func (v *TelnyxVerifier) Verify(sigB64, timestamp string, body []byte, now time.Time) error {
	if sigB64 == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if drift := now.Sub(time.Unix(ts, 0)); drift > v.window || drift < -v.window {
		return ErrStaleTimestamp
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return ErrInvalidSignature
	}

	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, body...)
	if !ed25519.Verify(v.publicKey, signed, sig) {
		return ErrInvalidSignature
	}
	return nil
}
