package types

import "errors"

var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric plus underscore/hyphen")
	ErrMissingType        = errors.New("envelope type is required")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrEmptyPayload       = errors.New("payload cannot be empty")
	ErrChatTooLong        = errors.New("chat message exceeds 1000 character limit")
)
