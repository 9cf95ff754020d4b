// Package chat sanitizes and classifies inbound chat webhook payloads.
// Validation failures are logged and dropped by the caller; the webhook
// still answers success so the carrier never retries.
package chat

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// MaxBodyBytes caps an inbound message body.
const MaxBodyBytes = 64 * 1024

var (
	ErrMissingField = errors.New("chat: required field missing")
	ErrBodyTooLarge = errors.New("chat: body exceeds size limit")
	ErrEmptyBody    = errors.New("chat: body empty")
	ErrBadHandle    = errors.New("chat: malformed handle")
	ErrBadAuthor    = errors.New("chat: malformed author address")
)

var (
	conversationHandleRe = regexp.MustCompile(`^CH[0-9a-fA-F]{32}$`)
	messageHandleRe      = regexp.MustCompile(`^IM[0-9a-fA-F]{32}$`)
	authorRe             = regexp.MustCompile(`^whatsapp:\+[1-9][0-9]{6,14}$`)
	phoneRe              = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

// ValidPhone reports whether a dial target is a plausible E.164 number.
func ValidPhone(phone string) bool {
	return phoneRe.MatchString(phone)
}

// Validate checks an inbound message and normalizes its body in place:
// control characters other than newline, tab and carriage return are
// stripped and surrounding whitespace trimmed.
func Validate(msg *domain.ChatMessage) error {
	if msg.ConversationHandle == "" || msg.AuthorAddress == "" || msg.Body == "" {
		return ErrMissingField
	}
	if len(msg.Body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}

	msg.Body = strings.TrimSpace(stripControl(msg.Body))
	if msg.Body == "" {
		return ErrEmptyBody
	}

	if !conversationHandleRe.MatchString(msg.ConversationHandle) {
		return ErrBadHandle
	}
	if msg.MessageHandle != "" && !messageHandleRe.MatchString(msg.MessageHandle) {
		return ErrBadHandle
	}
	if !authorRe.MatchString(msg.AuthorAddress) {
		return ErrBadAuthor
	}
	return nil
}

// AuthorPhone extracts the bare number from a validated author address.
func AuthorPhone(author string) string {
	return strings.TrimPrefix(author, "whatsapp:")
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\t', '\r':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
