package llm

import "fmt"

// APIError is the base error type for all model API failures.
type APIError struct {
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// ProviderError is an error returned by the model provider with an
// HTTP-level classification attached.
type ProviderError struct {
	APIError
	StatusCode int
	Retryable  bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (status=%d, retryable=%v)", e.Message, e.StatusCode, e.Retryable)
}

// Transient provider failures (retried).

// RateLimitError is a 429. RetryAfter, when present, is the provider's
// requested delay in seconds.
type RateLimitError struct {
	ProviderError
	RetryAfter *float64
}

type ServerError struct{ ProviderError }
type TimeoutError struct{ APIError }
type NetworkError struct{ APIError }

// Fatal failures (surfaced immediately, never retried).

type AuthenticationError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// AbortError indicates the caller cancelled the request.
type AbortError struct{ APIError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message string, retryAfter *float64) error {
	pe := ProviderError{
		APIError:   APIError{Message: message},
		StatusCode: statusCode,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 408:
		return &TimeoutError{APIError: pe.APIError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe, RetryAfter: retryAfter}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown statuses default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *RateLimitError, *ServerError, *TimeoutError, *NetworkError:
		return true
	case *AuthenticationError, *InvalidRequestError, *AccessDeniedError, *ContextLengthError, *AbortError:
		return false
	case *ProviderError:
		return e.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// IsRateLimit reports whether err is a rate-limit failure. The fallback
// controller keys its variant switch on this.
func IsRateLimit(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}
