package auth

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected operation for the transport boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrExpiredCredential  = errors.New("credential expired")
	ErrMissingSubject     = errors.New("token subject missing")
	ErrUnknownPrincipal   = errors.New("principal not found")
	ErrInactivePrincipal  = errors.New("principal inactive")
	ErrOrphanedCredential = errors.New("credential owner missing")
	ErrInsufficientRole   = errors.New("insufficient role")
	ErrMissingScope       = errors.New("missing scope")
	ErrWrongAuthType      = errors.New("wrong authentication type")
)

// Error is the outcome of a rejected operation. Message is safe to show to callers;
// Reason is the underlying cause and is only meant for logs.
type Error struct {
	Kind    Kind
	Message string
	Reason  error
}

func (e *Error) Error() string {
	if e.Reason == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Reason
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// CredentialsMessage is returned for every authentication failure regardless of cause.
const CredentialsMessage = "Could not validate credentials"

func Unauthorized(reason error) *Error {
	return &Error{Kind: KindUnauthorized, Message: CredentialsMessage, Reason: reason}
}

func Forbidden(message string, reason error) *Error {
	return &Error{Kind: KindForbidden, Message: message, Reason: reason}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// KindOf returns the Kind carried by err, or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
