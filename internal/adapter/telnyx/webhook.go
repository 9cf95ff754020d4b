package telnyx

import (
	"encoding/json"
	"fmt"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

type webhookEnvelope struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			HangupCause   string `json:"hangup_cause"`
			StreamID      string `json:"stream_id"`
		} `json:"payload"`
	} `json:"data"`
}

// ParseWebhook decodes a Telnyx call event envelope into a carrier status
// event. Event types outside the call lifecycle map to an empty Status and
// are ignored upstream.
func ParseWebhook(body []byte) (domain.CallStatusEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.CallStatusEvent{}, fmt.Errorf("telnyx: parse webhook: %w", err)
	}

	ev := domain.CallStatusEvent{
		CallID:   env.Data.Payload.CallControlID,
		Carrier:  "telnyx",
		Cause:    env.Data.Payload.HangupCause,
		StreamID: env.Data.Payload.StreamID,
	}

	switch env.Data.EventType {
	case "call.initiated":
		ev.Status = domain.CallInitiated
	case "call.ringing":
		ev.Status = domain.CallRinging
	case "call.answered":
		ev.Status = domain.CallAnswered
	case "call.bridged":
		ev.Status = domain.CallInProgress
	case "call.hangup":
		ev.Status = mapHangupCause(env.Data.Payload.HangupCause)
	}
	return ev, nil
}

// mapHangupCause folds Telnyx hangup causes onto the lifecycle statuses the
// engine retries on.
func mapHangupCause(cause string) domain.CallStatus {
	switch cause {
	case "user_busy":
		return domain.CallBusy
	case "no_answer", "timeout":
		return domain.CallNoAnswer
	case "originator_cancel":
		return domain.CallCanceled
	case "call_rejected", "unspecified", "invalid_number":
		return domain.CallFailed
	default:
		// normal_clearing and everything else after an answer
		return domain.CallCompleted
	}
}
