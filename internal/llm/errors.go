package llm

import "errors"

// Common errors returned by the llm package
var (
	// ErrInvocationFailed is returned when a model call fails for any general reason
	ErrInvocationFailed = errors.New("model invocation failed")

	// ErrInvalidResponse is returned when the model response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during model invocation")

	// ErrInvalidConfig is returned when the model client configuration is invalid
	ErrInvalidConfig = errors.New("invalid model client configuration")
)

// IsTransient reports whether an invocation error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}
