package domain

import "errors"

var (
	ErrNotFound         = errors.New("event not found")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrPermissionDenied = errors.New("notification permission denied")
)
