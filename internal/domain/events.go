package domain

// CallStatusEvent is a carrier call-status webhook normalized across
// carriers. CallID is the carrier call handle (CallSid or call_control_id).
type CallStatusEvent struct {
	CallID   string     `json:"call_id"`
	Status   CallStatus `json:"status"`
	Carrier  string     `json:"carrier"`
	Cause    string     `json:"cause,omitempty"`
	StreamID string     `json:"stream_id,omitempty"`
}

// ChatMessage is an inbound chat webhook payload normalized to one shape.
// Conversation-style and message-style carrier payloads both map onto it.
type ChatMessage struct {
	ConversationHandle string `json:"conversation_handle"`
	MessageHandle      string `json:"message_handle,omitempty"`
	AuthorAddress      string `json:"author_address"`
	Body               string `json:"body"`
}
