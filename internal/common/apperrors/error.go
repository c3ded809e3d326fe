// Package apperrors provides the chainable error type used across the record
// platform. Errors form hierarchies: a package declares a base error and
// derives more specific errors from it with New. errors.Is matches an error
// against any of its ancestors, which is how callers discriminate the error
// taxonomy (validation, not-found, conflict, ...) without string matching.
package apperrors

// Error is the interface implemented by all platform errors.
type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	MsgErr(msg string, err ...error) Error
	Msg(msg string) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
}
