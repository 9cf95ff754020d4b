package domain

import "time"

// TranscriptEntry is one ordered utterance in a conversation.
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// ConversationRecord is the durable form of a finished or ongoing
// conversation. It carries only the one-way hash of the phone number,
// never the number itself.
type ConversationRecord struct {
	SessionID  string            `json:"session_id"`
	PhoneHash  string            `json:"phone_hash"`
	Transcript []TranscriptEntry `json:"transcript"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}
