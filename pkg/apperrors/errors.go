package apperrors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrModelNotFound  = errors.New("model not found")
	ErrIntentNotFound = errors.New("intent not found")
)
