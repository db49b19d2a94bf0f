// Package errors carries the typed error taxonomy of the library API. Every
// failure that reaches a handler is mapped to one Code, which fixes its HTTP
// status and how much of it a client may see.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	// CodeStateConflict is a loan or catalog rule refusing the request; the
	// rule is named by the "reason" detail.
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Metadata is what the transport layer needs to render a Code. ExposeMessage
// lets the error's own message replace PublicMessage; ExposeDetails lets the
// details map reach the response body.
type Metadata struct {
	HTTPStatus    int
	PublicMessage string
	ExposeMessage bool
	ExposeDetails bool
}

var codeTable = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, "request is invalid", true, true},
	CodeUnauthorized:  {http.StatusUnauthorized, "authentication required", true, false},
	CodeForbidden:     {http.StatusForbidden, "not allowed for this account", true, true},
	CodeNotFound:      {http.StatusNotFound, "resource not found", true, true},
	CodeConflict:      {http.StatusConflict, "request conflicts with existing data", true, false},
	CodeStateConflict: {http.StatusUnprocessableEntity, "refused by lending rules", true, true},
	CodeIdempotency:   {http.StatusConflict, "idempotency key reused", true, true},
	CodeRateLimit:     {http.StatusTooManyRequests, "too many attempts", true, false},
	CodeInternal:      {http.StatusInternalServerError, "internal server error", false, false},
	CodeDependency:    {http.StatusServiceUnavailable, "dependency unavailable", false, true},
}

// MetadataFor resolves a code, treating anything unknown as internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := codeTable[code]; ok {
		return meta
	}
	return codeTable[CodeInternal]
}

// Error is a coded failure with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap keeps err reachable through errors.Is/As while presenting code.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// Code is CodeInternal on a nil receiver so a typed nil still renders as a 500.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

// WithDetails attaches details in place and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	default:
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost typed error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost typed error in err carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Reason names the rule that refused err, taken from its "reason" detail.
func Reason(err error) string {
	typed := As(err)
	if typed == nil {
		return ""
	}
	switch details := typed.details.(type) {
	case map[string]string:
		return details["reason"]
	case map[string]any:
		reason, _ := details["reason"].(string)
		return reason
	default:
		return ""
	}
}
