package errors

import (
	stderrors "errors"
	"fmt"
)

// AmanError is the structured error type for amankb.
// It carries enough context for logging, CLI output and MCP error mapping.
type AmanError struct {
	// Code is the unique error code (e.g., "ERR_201_FILE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is derived from the numeric code range.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *AmanError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AmanError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with AmanError.
func (e *AmanError) Is(target error) bool {
	if t, ok := target.(*AmanError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *AmanError) WithDetail(key, value string) *AmanError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *AmanError) WithSuggestion(suggestion string) *AmanError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AmanError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AmanError {
	return &AmanError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AmanError from an existing error.
// The error's message becomes the AmanError message.
func Wrap(code string, err error) *AmanError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AmanError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a store-related error.
func StorageError(message string, cause error) *AmanError {
	return New(ErrCodeStoreFailed, message, cause)
}

// NetworkError creates a network-related error.
// Network errors are retryable.
func NetworkError(message string, cause error) *AmanError {
	return New(ErrCodeNetworkUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *AmanError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AmanError {
	return New(ErrCodeInternal, message, cause)
}

// ConfigDrift reports that the configured embedding setup no longer matches
// what a collection was built with.
func ConfigDrift(collection, message string) *AmanError {
	return New(ErrCodeConfigDrift, message, nil).
		WithDetail("collection", collection).
		WithSuggestion("Restore the original configuration or rebuild with --force")
}

// UnversionedCollection reports a non-empty collection with no schema version.
func UnversionedCollection(collection string) *AmanError {
	return New(ErrCodeUnversionedCollection,
		fmt.Sprintf("collection %q has data but no schema_version metadata", collection), nil).
		WithDetail("collection", collection).
		WithSuggestion("Run 'amankb index " + collection + " --force' to rebuild it")
}

// ProviderUnavailable reports that the AI provider could not be reached or used.
func ProviderUnavailable(provider, model string, cause error) *AmanError {
	msg := fmt.Sprintf("provider %s (model %s) is unavailable", provider, model)
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeProviderUnavailable, msg, cause).
		WithDetail("provider", provider).
		WithDetail("model", model).
		WithSuggestion("Run 'amankb check' to diagnose the provider")
}

// CredentialMissing reports a credential reference that resolved to nothing.
// Only the reference is recorded, never a secret.
func CredentialMissing(ref string, cause error) *AmanError {
	return New(ErrCodeCredentialMissing,
		fmt.Sprintf("credential %q could not be resolved", ref), cause).
		WithDetail("credential_ref", ref).
		WithSuggestion("Export the environment variable or store the key in the OS keyring")
}

// DimensionMismatch reports a vector whose length differs from the collection's.
func DimensionMismatch(collection, model string, actual, expected int) *AmanError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("query vector has dimension %d, collection %q expects %d (model %s)",
			actual, collection, expected, model), nil).
		WithDetail("collection", collection).
		WithDetail("model", model).
		WithDetail("actual_dimension", fmt.Sprint(actual)).
		WithDetail("expected_dimension", fmt.Sprint(expected))
}

// NoteFailed wraps a failure that affected a single note.
func NoteFailed(noteID string, cause error) *AmanError {
	msg := "note " + noteID + " failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(ErrCodeNoteFailed, msg, cause).WithDetail("note_id", noteID)
}

// As returns the first AmanError in err's chain.
func As(err error) (*AmanError, bool) {
	var ae *AmanError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if any AmanError in the chain has the Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := As(err); ok {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := As(err); ok {
		return ae.Severity == SeverityFatal
	}
	return false
}

// HasCode reports whether err's chain contains an AmanError with code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an AmanError.
// Returns empty string if not an AmanError.
func GetCode(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from an AmanError.
// Returns empty string if not an AmanError.
func GetCategory(err error) Category {
	if ae, ok := As(err); ok {
		return ae.Category
	}
	return ""
}
