package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Class is the normalized failure class of a gateway call.
type Class string

const (
	// ClassNetwork means no response reached the client (DNS, refused, reset, timeout).
	ClassNetwork Class = "network"
	// ClassAuth means the credential was rejected or has expired (401/403).
	ClassAuth Class = "auth"
	// ClassClient is any other well-formed 4xx rejection.
	ClassClient Class = "client"
	// ClassServer is a 5xx response or an undecodable success body.
	ClassServer Class = "server"
)

// Error is the only error shape the gateway returns for failed calls.
// Callers never see raw transport errors except through Unwrap.
type Error struct {
	Class   Class
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transport: %s (%d): %s", e.Class, e.Status, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *Error) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ClassOf returns the class of a gateway error.
func ClassOf(err error) (Class, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Class, true
	}
	return "", false
}

// IsAuth reports whether err is a gateway error of class auth.
func IsAuth(err error) bool {
	c, ok := ClassOf(err)
	return ok && c == ClassAuth
}

func classifyStatus(status int) Class {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status >= 400 && status < 500:
		return ClassClient
	default:
		return ClassServer
	}
}
