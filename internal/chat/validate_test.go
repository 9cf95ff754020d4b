package chat_test

import (
	"strings"
	"testing"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/chat"
	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
)

func validMessage() *domain.ChatMessage {
	return &domain.ChatMessage{
		ConversationHandle: "CH0123456789abcdef0123456789abcdef",
		MessageHandle:      "IM0123456789abcdef0123456789abcdef",
		AuthorAddress:      "whatsapp:+14155551234",
		Body:               "hello there",
	}
}

func TestValidateAccepts(t *testing.T) {
	msg := validMessage()
	assert.NoError(t, chat.Validate(msg))
	assert.Equal(t, "hello there", msg.Body)
}

func TestValidateRequiredFields(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*domain.ChatMessage)
	}{
		{"no conversation handle", func(m *domain.ChatMessage) { m.ConversationHandle = "" }},
		{"no author", func(m *domain.ChatMessage) { m.AuthorAddress = "" }},
		{"no body", func(m *domain.ChatMessage) { m.Body = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			msg := validMessage()
			tc.mutate(msg)
			assert.ErrorIs(t, chat.Validate(msg), chat.ErrMissingField)
		})
	}
}

func TestValidateBodyLimits(t *testing.T) {
	msg := validMessage()
	msg.Body = strings.Repeat("a", chat.MaxBodyBytes+1)
	assert.ErrorIs(t, chat.Validate(msg), chat.ErrBodyTooLarge)

	msg = validMessage()
	msg.Body = "   \t\r\n  "
	assert.ErrorIs(t, chat.Validate(msg), chat.ErrEmptyBody)

	// Control characters only: nothing survives the strip.
	msg = validMessage()
	msg.Body = "\x07\x00\x1b"
	assert.ErrorIs(t, chat.Validate(msg), chat.ErrEmptyBody)
}

func TestValidateStripsControlCharacters(t *testing.T) {
	msg := validMessage()
	msg.Body = "line one\nline\ttwo\r\n\x07 bell\x00 gone"
	assert.NoError(t, chat.Validate(msg))
	assert.Equal(t, "line one\nline\ttwo\r\n bell gone", msg.Body)
}

func TestValidateHandleShapes(t *testing.T) {
	for _, bad := range []string{
		"CH123",
		"XX0123456789abcdef0123456789abcdef",
		"CH0123456789abcdef0123456789abcdeg",
		"ch0123456789abcdef0123456789abcdef0",
	} {
		msg := validMessage()
		msg.ConversationHandle = bad
		assert.ErrorIs(t, chat.Validate(msg), chat.ErrBadHandle, "handle %q", bad)
	}

	msg := validMessage()
	msg.MessageHandle = "IMtooshort"
	assert.ErrorIs(t, chat.Validate(msg), chat.ErrBadHandle)

	// The message handle is optional.
	msg = validMessage()
	msg.MessageHandle = ""
	assert.NoError(t, chat.Validate(msg))
}

func TestValidateAuthorShape(t *testing.T) {
	for _, bad := range []string{
		"+14155551234",
		"whatsapp:14155551234",
		"whatsapp:+04155551234",
		"whatsapp:+123456",
		"whatsapp:+1234567890123456",
		"sms:+14155551234",
		"whatsapp:+1415555x234",
	} {
		msg := validMessage()
		msg.AuthorAddress = bad
		assert.ErrorIs(t, chat.Validate(msg), chat.ErrBadAuthor, "author %q", bad)
	}

	msg := validMessage()
	msg.AuthorAddress = "whatsapp:+1234567"
	assert.NoError(t, chat.Validate(msg), "seven digits is the floor")
}

func TestAuthorPhone(t *testing.T) {
	assert.Equal(t, "+14155551234", chat.AuthorPhone("whatsapp:+14155551234"))
}
