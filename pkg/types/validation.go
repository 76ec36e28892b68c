package types

import (
	"regexp"
	"unicode/utf8"
)

// Compiled once at package initialization; validation runs on every
// inbound envelope.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxChatLength caps chat messages in characters, not bytes.
const MaxChatLength = 1000

// IsValidUserID checks if a user ID meets format requirements.
// The 1-50 character limit matches what the marketplace issues.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidMessageType reports whether the type is part of the closed
// inbound set the router dispatches on.
func IsValidMessageType(messageType string) bool {
	return ShapeOf(messageType) != ShapeUnknown
}

// ValidateChatText enforces the chat size cap. Counted in runes so
// multi-byte text is not penalized.
func ValidateChatText(text string) error {
	if text == "" {
		return ErrEmptyPayload
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return ErrChatTooLong
	}
	return nil
}

// Validate performs the shape-independent envelope checks.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if !IsValidMessageType(e.Type) {
		return ErrUnknownMessageType
	}
	if e.ToUser != nil && !IsValidUserID(*e.ToUser) {
		return ErrInvalidUserID
	}
	return nil
}
