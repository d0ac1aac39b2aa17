package handler

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/CageChen/contentbridge/internal/remote"
)

// ErrorKind classifies failures surfaced by the bridge.
type ErrorKind string

// Bridge error kinds.
const (
	KindInvalidPayload    ErrorKind = "InvalidPayload"
	KindMissingField      ErrorKind = "MissingField"
	KindNotAFile          ErrorKind = "NotAFile"
	KindMissingCredential ErrorKind = "MissingCredential"
	KindUpstream          ErrorKind = "Upstream"
	KindUnexpected        ErrorKind = "Unexpected"
)

const invalidPayloadMessage = "the request body is not valid JSON"

// BridgeError is an expected failure with the status and message the caller
// receives verbatim.
type BridgeError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func newInvalidPayload() *BridgeError {
	return &BridgeError{Kind: KindInvalidPayload, Message: invalidPayloadMessage, StatusCode: http.StatusBadRequest}
}

func newMissingField(message string) *BridgeError {
	return &BridgeError{Kind: KindMissingField, Message: message, StatusCode: http.StatusBadRequest}
}

// asBridgeError reports whether err is an expected failure, converting remote
// client errors on the way. Anything else is unexpected.
func asBridgeError(err error) (*BridgeError, bool) {
	var be *BridgeError
	if errors.As(err, &be) {
		return be, true
	}

	var re *remote.Error
	if !errors.As(err, &re) {
		return nil, false
	}

	kind := KindUpstream
	switch re.Kind {
	case remote.KindNotAFile:
		kind = KindNotAFile
	case remote.KindMissingCredential:
		kind = KindMissingCredential
	case remote.KindMissingField:
		kind = KindMissingField
	}
	return &BridgeError{Kind: kind, Message: re.Message, StatusCode: re.StatusCode}, true
}
