package nlu

import (
	"errors"
	"fmt"
)

// ErrorKind classifies NLU failures so callers can route them: fail fast,
// back off, retry, or degrade.
type ErrorKind string

const (
	// KindConfiguration: no provider selected or unknown provider key.
	// Fatal at orchestrator construction.
	KindConfiguration ErrorKind = "configuration"
	// KindRateLimit: the bot exhausted its hourly extraction budget. The
	// event is rejected before the provider is invoked.
	KindRateLimit ErrorKind = "rate_limit"
	// KindSyncInProgress: a sync is already running for this provider
	// (locally or remotely). Recoverable; callers should back off.
	KindSyncInProgress ErrorKind = "sync_in_progress"
	// KindSyncFailed: training or remote upload failed. Recoverable; the
	// previously loaded model remains usable.
	KindSyncFailed ErrorKind = "sync_failed"
	// KindExtractionTransient: network or timeout failure during extraction.
	// Retried per policy, then degrades to "no NLU annotation".
	KindExtractionTransient ErrorKind = "extraction_transient"
	// KindExtractionFatal: extraction cannot succeed without intervention
	// (e.g. missing local model). Not retried; degrades the same way.
	KindExtractionFatal ErrorKind = "extraction_fatal"
)

// Error is a structured NLU error with classification.
type Error struct {
	Kind       ErrorKind
	Message    string
	Cause      error
	StatusCode int // HTTP status from a remote backend, if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s: HTTP %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface. Only transient
// extraction failures are worth retrying under the orchestrator's policy.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindExtractionTransient
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewConfigurationError reports an unusable provider configuration.
func NewConfigurationError(message string) *Error {
	return newError(KindConfiguration, message, nil)
}

// NewRateLimitError reports an exhausted hourly budget.
func NewRateLimitError(botID string, quota int) *Error {
	return newError(KindRateLimit, fmt.Sprintf("bot %s exceeded %d requests in the last hour", botID, quota), nil)
}

// NewSyncInProgressError reports an overlapping sync attempt.
func NewSyncInProgressError(message string) *Error {
	return newError(KindSyncInProgress, message, nil)
}

// NewSyncFailedError reports a failed training or upload pass.
func NewSyncFailedError(message string, cause error) *Error {
	return newError(KindSyncFailed, message, cause)
}

// NewTransientError reports a retryable extraction failure.
func NewTransientError(message string, cause error) *Error {
	return newError(KindExtractionTransient, message, cause)
}

// NewFatalError reports a non-retryable extraction failure.
func NewFatalError(message string, cause error) *Error {
	return newError(KindExtractionFatal, message, cause)
}

// IsKind reports whether err is an NLU error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var nluErr *Error
	return errors.As(err, &nluErr) && nluErr.Kind == kind
}
