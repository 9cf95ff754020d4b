// Package stream terminates carrier media websockets: start-frame
// authentication, inbound audio and DTMF, and the outbound track the
// speaker writes through.
//
// Both carriers speak near-identical JSON frames; Telnyx copied the Twilio
// media-streams schema and differs only in the stream id spelling and how
// the session token rides the start message.
package stream

import (
	"encoding/base64"
	"fmt"
)

// Carrier labels for the two websocket dialects.
const (
	CarrierTwilio = "twilio"
	CarrierTelnyx = "telnyx"
)

// Frame event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventClear     = "clear"
	EventDTMF      = "dtmf"
	EventStop      = "stop"
)

// Frame is the inbound message envelope for both dialects.
type Frame struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	StreamID       string        `json:"stream_id,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
	DTMF           *DTMFPayload  `json:"dtmf,omitempty"`
}

// StartPayload is the first real frame on the socket. Twilio carries the
// session token in customParameters; Telnyx echoes it base64-encoded in
// client_state.
type StartPayload struct {
	StreamSid        string            `json:"streamSid,omitempty"`
	CallSid          string            `json:"callSid,omitempty"`
	CallControlID    string            `json:"call_control_id,omitempty"`
	ClientState      string            `json:"client_state,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaPayload carries one base64 mu-law frame.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// MarkPayload names a playback marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// DTMFPayload carries one keypad digit.
type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// outFrame is the outbound envelope. StreamSid is set for Twilio only;
// Telnyx scopes frames to the socket.
type outFrame struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Mark      *MarkPayload  `json:"mark,omitempty"`
}

// streamID returns whichever spelling of the stream id the carrier used.
func (f *Frame) streamID() string {
	if f.StreamSid != "" {
		return f.StreamSid
	}
	return f.StreamID
}

// sessionToken extracts the stream token from a start frame.
func (f *Frame) sessionToken(carrier string) (string, error) {
	if f.Start == nil {
		return "", fmt.Errorf("stream: start frame missing payload")
	}
	switch carrier {
	case CarrierTelnyx:
		raw, err := base64.StdEncoding.DecodeString(f.Start.ClientState)
		if err != nil {
			return "", fmt.Errorf("stream: decode client_state: %w", err)
		}
		return string(raw), nil
	default:
		return f.Start.CustomParameters["token"], nil
	}
}
