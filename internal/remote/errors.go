package remote

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a remote client failure.
type ErrorKind int

const (
	// KindUpstream is a non-2xx response that fits no narrower kind.
	KindUpstream ErrorKind = iota
	// KindNotFound is an upstream 404.
	KindNotFound
	// KindUnauthorized is an upstream 401 or 403.
	KindUnauthorized
	// KindConflict is an upstream 409 or 422, usually a stale sha.
	KindConflict
	// KindNotAFile means the path resolved to a directory or a non-file entry.
	KindNotAFile
	// KindMissingCredential means a write was attempted without a token.
	KindMissingCredential
	// KindMissingField means a required request field was empty.
	KindMissingField
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUpstream:
		return "Upstream"
	case KindNotFound:
		return "NotFound"
	case KindUnauthorized:
		return "Unauthorized"
	case KindConflict:
		return "Conflict"
	case KindNotAFile:
		return "NotAFile"
	case KindMissingCredential:
		return "MissingCredential"
	case KindMissingField:
		return "MissingField"
	default:
		return "Unknown"
	}
}

const defaultUpstreamMessage = "GitHub request failed"

// Error is returned by Client for every expected failure. StatusCode is the
// upstream status for upstream kinds and the status the bridge should answer
// with for local kinds.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("github %s (%d): %s (caused by: %v)", e.Kind, e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("github %s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause for error wrapping.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewUpstreamError builds an Error for a non-2xx upstream response, keeping
// the status verbatim.
func NewUpstreamError(statusCode int, message string, cause error) *Error {
	return &Error{
		Kind:       kindForStatus(statusCode),
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewNotAFileError reports a path that is not a regular file.
func NewNotAFileError(message string) *Error {
	return &Error{Kind: KindNotAFile, StatusCode: http.StatusBadRequest, Message: message}
}

// NewMissingCredentialError reports a write attempted without a token.
func NewMissingCredentialError(source string) *Error {
	msg := "a GitHub token is required for write operations"
	if source != "" {
		msg = fmt.Sprintf("%s is not set; a GitHub token is required for write operations", source)
	}
	return &Error{Kind: KindMissingCredential, StatusCode: http.StatusInternalServerError, Message: msg}
}

// NewMissingFieldError reports an empty required field.
func NewMissingFieldError(message string) *Error {
	return &Error{Kind: KindMissingField, StatusCode: http.StatusBadRequest, Message: message}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return KindConflict
	default:
		return KindUpstream
	}
}

// upstreamMessage picks the message shown for a failed upstream call: the
// JSON "message" field, else the HTTP status text, else a fixed default.
func upstreamMessage(bodyMessage, statusText string) string {
	if m := strings.TrimSpace(bodyMessage); m != "" {
		return m
	}
	if s := strings.TrimSpace(statusText); s != "" {
		return s
	}
	return defaultUpstreamMessage
}

// statusText returns the reason phrase of a status line such as
// "404 Not Found", falling back to the canonical text for the code.
func statusText(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
