package apperrors

import "net/http"

// appError implements Error. A derived error keeps a pointer to its base so
// that Is can walk the ancestry chain.
type appError struct {
	msg           string
	base          Error
	wrappedErrors []error
	statuscode    int
	expandError   bool
}

// New creates a root error with the given message. The status code defaults
// to 500 until SetStatusCode overrides it.
func New(msg string) Error {
	return &appError{
		msg:        msg,
		statuscode: http.StatusInternalServerError,
	}
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll renders the message followed by all wrapped errors when expansion
// is enabled on this error.
func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.wrappedErrors) == 0 {
		return e.msg
	}
	msg := e.msg + ": "
	for i, err := range e.wrappedErrors {
		if i > 0 {
			msg += "; "
		}
		msg += err.Error()
	}
	return msg
}

func (e *appError) Unwrap() []error {
	return e.wrappedErrors
}

// New derives a child error. The child inherits the status code and keeps
// this error as its base for Is matching.
func (e *appError) New(msg string) Error {
	return &appError{
		msg:         msg,
		statuscode:  e.statuscode,
		expandError: e.expandError,
		base:        e,
	}
}

// Msg derives a copy with a replacement message.
func (e *appError) Msg(msg string) Error {
	c := e.clone()
	c.msg = msg
	return c
}

// MsgErr derives a copy with a replacement message and wrapped causes.
func (e *appError) MsgErr(msg string, err ...error) Error {
	c := e.clone()
	c.msg = msg
	c.wrappedErrors = append(c.wrappedErrors, err...)
	return c
}

// Err derives a copy with additional wrapped causes.
func (e *appError) Err(err ...error) Error {
	c := e.clone()
	c.wrappedErrors = append(c.wrappedErrors, err...)
	return c
}

func (e *appError) Is(target error) bool {
	if e == target {
		return true
	}
	if e.base != nil && (e.base == target || e.base.Is(target)) {
		return true
	}
	for _, err := range e.wrappedErrors {
		if err == target {
			return true
		}
	}
	return false
}

func (e *appError) SetExpandError(expand bool) Error {
	e.expandError = expand
	return e
}

func (e *appError) SetStatusCode(code int) Error {
	e.statuscode = code
	return e
}

// StatusCode returns the HTTP-shaped status code carrying the error kind:
// 400 validation, 401 unauthorized, 403 forbidden, 404 not found,
// 409 conflict, 500 internal.
func (e *appError) StatusCode() int {
	return e.statuscode
}

func (e *appError) clone() *appError {
	c := &appError{
		msg: e.msg,
		// the derived error keeps e in its ancestry so Is still matches
		base:        e,
		statuscode:  e.statuscode,
		expandError: e.expandError,
	}
	c.wrappedErrors = append(c.wrappedErrors, e.wrappedErrors...)
	return c
}
