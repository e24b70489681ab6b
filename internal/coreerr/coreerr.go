// Package coreerr defines the error taxonomy shared by every component so
// the tool gateway can map any failure to {code, message, details} without
// sniffing error strings.
package coreerr

import "fmt"

// Code identifies one of the taxonomy's error classes.
type Code string

const (
	CodeParseError          Code = "parse_error"
	CodeCacheMiss           Code = "cache_miss"
	CodeUnresolvedParent    Code = "unresolved_parent"
	CodeCircuitOpen         Code = "circuit_open"
	CodeTimeout             Code = "timeout"
	CodeRateLimited         Code = "rate_limited"
	CodeVectorStoreError    Code = "vector_store_error"
	CodeEmbeddingError      Code = "embedding_error"
	CodeConfigError         Code = "config_error"
	CodeInvariantViolation  Code = "invariant_violation"
)

// CodedError is a taxonomy error: a code plus a human-readable message and
// optional structured details, and an optional wrapped cause.
type CodedError struct {
	code    Code
	message string
	Details map[string]any
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Code returns the taxonomy code string.
func (e *CodedError) Code() string { return string(e.code) }

// Unwrap lets errors.Is/As see through to the cause.
func (e *CodedError) Unwrap() error { return e.Cause }

func newErr(code Code, message string, cause error) *CodedError {
	return &CodedError{code: code, message: message, Cause: cause}
}

func ParseError(msg string, cause error) *CodedError         { return newErr(CodeParseError, msg, cause) }
func CacheMissError(msg string) *CodedError                  { return newErr(CodeCacheMiss, msg, nil) }
func UnresolvedParentError(msg string) *CodedError            { return newErr(CodeUnresolvedParent, msg, nil) }
func CircuitOpenError(msg string) *CodedError                { return newErr(CodeCircuitOpen, msg, nil) }
func TimeoutError(msg string, cause error) *CodedError        { return newErr(CodeTimeout, msg, cause) }
func RateLimitedError(msg string) *CodedError                 { return newErr(CodeRateLimited, msg, nil) }
func VectorStoreError(msg string, cause error) *CodedError    { return newErr(CodeVectorStoreError, msg, cause) }
func EmbeddingError(msg string, cause error) *CodedError      { return newErr(CodeEmbeddingError, msg, cause) }
func ConfigError(msg string, cause error) *CodedError         { return newErr(CodeConfigError, msg, cause) }
func InvariantViolationError(msg string) *CodedError          { return newErr(CodeInvariantViolation, msg, nil) }

// AsCoded extracts a *CodedError when err itself is one, via a simple type
// assertion; wrapped causes further down the chain are not searched (the
// taxonomy never wraps itself more than once in practice, so errors.As is
// unnecessary ceremony here).
func AsCoded(err error) (*CodedError, bool) {
	ce, ok := err.(*CodedError)
	return ce, ok
}
