// Package domain defines the core domain models for the call engine.
package domain

// Mode represents which sub-pipeline of a session is active.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeChat  Mode = "chat"
)

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionInitiating SessionStatus = "initiating"
	SessionConnecting SessionStatus = "connecting"
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
)

// CallStatus is the normalized call progress value reported by a carrier.
// Both carriers' native vocabularies map onto this set.
type CallStatus string

const (
	CallQueued     CallStatus = "queued"
	CallInitiated  CallStatus = "initiated"
	CallRinging    CallStatus = "ringing"
	CallAnswered   CallStatus = "answered"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// IsTerminalFailure reports whether the status means the call can no longer
// be completed and the session should fall back to chat.
func (s CallStatus) IsTerminalFailure() bool {
	switch s {
	case CallBusy, CallFailed, CallNoAnswer, CallCanceled:
		return true
	}
	return false
}

// IsHangup reports whether the status ends an established call.
func (s CallStatus) IsHangup() bool {
	return s == CallCompleted
}

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerHuman Speaker = "human"
	SpeakerDTMF  Speaker = "dtmf"
)

// EndReason records why a session was destroyed.
type EndReason string

const (
	EndReasonHangup     EndReason = "hangup"
	EndReasonRequested  EndReason = "requested"
	EndReasonInactivity EndReason = "inactivity"
	EndReasonExpired    EndReason = "window_expired"
	EndReasonError      EndReason = "error"
)
