package types

import "fmt"

// InputError reports an invalid job submission (neither audio nor
// transcript). Fatal, never retried.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Message)
}

// UpstreamTransientError reports a retryable failure from the reasoning or
// transcription service (rate limit, 5xx). RetryAfterSec carries the
// upstream's retry hint when one was present, otherwise zero.
type UpstreamTransientError struct {
	Message       string
	RetryAfterSec float64
	Cause         error
}

func (e *UpstreamTransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient upstream failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("transient upstream failure: %s", e.Message)
}

func (e *UpstreamTransientError) Unwrap() error { return e.Cause }

// UpstreamFatalError reports malformed or unparseable model output after
// retries were exhausted.
type UpstreamFatalError struct {
	Message string
	Cause   error
}

func (e *UpstreamFatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream failure: %s", e.Message)
}

func (e *UpstreamFatalError) Unwrap() error { return e.Cause }

// PersistenceError reports a failed durable write after all attempts.
type PersistenceError struct {
	Message string
	Cause   error
}

func (e *PersistenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("persistence failure: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("persistence failure: %s", e.Message)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
