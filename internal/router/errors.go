package router

import "errors"

var (
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidQuality = errors.New("quality must be one of: high, medium, low, poor")
	ErrInvalidStatus  = errors.New("status must be one of: connecting, connected, reconnecting, disconnected")
)
