package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Business-rule reasons surfaced to callers as stable machine-readable codes.
const (
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeProductNotFound      Code = "PRODUCT_NOT_FOUND"
	CodeOrderNumberExhausted Code = "ORDER_NUMBER_EXHAUSTED"
	CodePartiallyApplied     Code = "ORDER_PARTIALLY_APPLIED"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeAlreadyPaid          Code = "ALREADY_PAID"
	CodeInvalidSignature     Code = "INVALID_SIGNATURE"
	CodeInsufficientPoints   Code = "INSUFFICIENT_POINTS"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
)

// Metadata is how a code surfaces over HTTP. ExposeMessage lets the error's
// own message replace PublicMessage in the response body.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

type metaOption func(*Metadata)

var (
	retryable = func(m *Metadata) { m.Retryable = true }
	details   = func(m *Metadata) { m.DetailsAllowed = true }
	expose    = func(m *Metadata) { m.ExposeMessage = true }
)

func meta(status int, public string, opts ...metaOption) Metadata {
	m := Metadata{HTTPStatus: status, PublicMessage: public}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    meta(http.StatusBadRequest, "validation failed", details, expose),
	CodeUnauthorized:  meta(http.StatusUnauthorized, "authentication required", expose),
	CodeForbidden:     meta(http.StatusForbidden, "access denied", expose),
	CodeNotFound:      meta(http.StatusNotFound, "resource not found", expose),
	CodeConflict:      meta(http.StatusConflict, "conflict detected", expose),
	CodeStateConflict: meta(http.StatusUnprocessableEntity, "state transition disallowed", details, expose),
	CodeIdempotency:   meta(http.StatusConflict, "idempotency key reused", details, expose),
	CodeRateLimit:     meta(http.StatusTooManyRequests, "rate limit exceeded", expose),
	CodeInternal:      meta(http.StatusInternalServerError, "internal server error", retryable),
	CodeDependency:    meta(http.StatusServiceUnavailable, "dependency unavailable", retryable, details),

	CodeInsufficientStock:    meta(http.StatusBadRequest, "insufficient stock", details, expose),
	CodeProductNotFound:      meta(http.StatusNotFound, "product not found", details, expose),
	CodeOrderNumberExhausted: meta(http.StatusInternalServerError, "could not allocate an order number", retryable),
	CodePartiallyApplied:     meta(http.StatusInternalServerError, "order partially applied", details),
	CodeInvalidTransition:    meta(http.StatusBadRequest, "invalid status transition", details, expose),
	CodeAlreadyPaid:          meta(http.StatusBadRequest, "order already paid"),
	CodeInvalidSignature:     meta(http.StatusBadRequest, "invalid signature"),
	CodeInsufficientPoints:   meta(http.StatusBadRequest, "insufficient points", details, expose),
	CodeInvalidAmount:        meta(http.StatusBadRequest, "invalid amount", expose),
}

// MetadataFor falls back to CodeInternal for codes it does not know.
func MetadataFor(code Code) Metadata {
	if m, ok := metadataByCode[code]; ok {
		return m
	}
	return metadataByCode[CodeInternal]
}

// IsClientFacing reports whether errors with this code are the caller's fault.
func IsClientFacing(code Code) bool {
	m := MetadataFor(code)
	return m.HTTPStatus >= 400 && m.HTTPStatus < 500
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

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

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err carries the provided code anywhere in its chain.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
