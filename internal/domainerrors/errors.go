// Package domainerrors carries the error taxonomy of the classification
// pipeline. Every stage returns an *Error (optionally wrapping a cause) so the
// transport layer can map failures to a status code and a safe message
// without inspecting strings.
package domainerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of a pipeline failure.
type Code string

const (
	// CodeDecode means the upload could not be parsed as a supported raster.
	CodeDecode Code = "decode_error"
	// CodeDimension means the raster has zero, too small or too large sides.
	CodeDimension Code = "dimension_error"
	// CodeBadRequest covers malformed requests that never reach the pipeline.
	CodeBadRequest Code = "bad_request"
	// CodePayloadTooLarge means the request body exceeded the upload cap.
	CodePayloadTooLarge Code = "payload_too_large"
	// CodeInference is a forward-pass failure. It signals a defect upstream.
	CodeInference Code = "inference_error"
	// CodeInvariant means the probability vector failed shape or sum checks.
	CodeInvariant Code = "invariant_violation"
	// CodeCanceled means the caller went away before the pipeline finished.
	CodeCanceled Code = "request_canceled"
	// CodeTimeout means the request deadline passed before the pipeline finished.
	CodeTimeout  Code = "request_timeout"
	CodeInternal Code = "internal_error"
)

// Error is a pipeline error with a machine-readable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with a format string.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// FromContext classifies a context error as CodeTimeout or CodeCanceled.
func FromContext(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, CodeTimeout, "request timed out")
	}
	return Wrap(err, CodeCanceled, "request canceled")
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// ToHTTPStatus maps a code to the status the transport layer responds with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeDecode, CodeDimension, CodeBadRequest:
		return http.StatusBadRequest
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeCanceled:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsDefect reports whether code points at a broken upstream contract rather
// than at the request or its lifetime.
func IsDefect(code Code) bool {
	switch code {
	case CodeInference, CodeInvariant, CodeInternal:
		return true
	default:
		return false
	}
}

// SafeMessage returns the message that may be shown to a caller. Server-side
// faults are reduced to a generic sentence so no internal detail leaks.
func SafeMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) {
		return "internal server error"
	}
	if IsDefect(de.Code) {
		return "prediction failed"
	}
	return de.Message
}
