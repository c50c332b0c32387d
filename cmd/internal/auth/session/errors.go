package session

import (
	"errors"
	"fmt"
	"net/http"

	"wastewise/cmd/internal/transport"
)

var (
	// ErrInvalidCredentials is returned when the backend rejects the submitted
	// identifier/secret pair. The user may correct and resubmit.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrValidation is returned for well-formed rejections other than bad
	// credentials (duplicate account, malformed email, missing fields).
	ErrValidation = errors.New("validation failed")

	// ErrAuth is returned when a stored credential is rejected or expired.
	ErrAuth = errors.New("authentication rejected")

	// ErrNetwork is returned when no response reached the client (unreachable, timeout).
	ErrNetwork = errors.New("network error")

	// ErrServer is returned for 5xx-class failures and undecodable responses.
	ErrServer = errors.New("server error")

	// ErrAccountCreatedNoSession is returned by Signup when the account was
	// created but the follow-up login failed. Callers should route to a manual
	// login rather than retry signup.
	ErrAccountCreatedNoSession = errors.New("account created but session not started")

	// ErrSuperseded is returned when an operation was overtaken by a later one
	// (typically a logout issued while a login was in flight).
	ErrSuperseded = errors.New("operation superseded")

	// ErrNotAuthenticated is returned by Refresh when there is no stored credential.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrStorage is returned when the credential store cannot be read or written.
	ErrStorage = errors.New("credential storage failed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// OpError describes a failed session operation.
//
// Kind is one of the sentinels above; Err is the underlying cause, usually a
// *transport.Error. errors.Is matches both.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("session %s: %s: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("session %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("session %s: %s", e.Op, e.Kind)
	}
}

func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether resubmitting the same request may succeed.
// The manager never retries on its own; this is advice for the caller.
func (e *OpError) Retryable() bool {
	return errors.Is(e.Kind, ErrNetwork) || errors.Is(e.Kind, ErrServer)
}

// SignupError reports which stage of Signup failed.
//
// Stage "create" means the account was not created and no login was tried.
// Stage "login" means the account exists but no session was started; in that
// case errors.Is(err, ErrAccountCreatedNoSession) is true.
type SignupError struct {
	Stage string
	Err   error
}

const (
	StageCreate = "create"
	StageLogin  = "login"
)

func (e *SignupError) Error() string {
	if e.Stage == StageLogin {
		return fmt.Sprintf("signup: %s: %v", ErrAccountCreatedNoSession, e.Err)
	}
	return fmt.Sprintf("signup %s: %v", e.Stage, e.Err)
}

func (e *SignupError) Unwrap() []error {
	if e.Stage == StageLogin {
		return []error{ErrAccountCreatedNoSession, e.Err}
	}
	return []error{e.Err}
}

// Retryable reports whether the failed stage may succeed on resubmission.
func (e *SignupError) Retryable() bool {
	var op *OpError
	if errors.As(e.Err, &op) {
		return op.Retryable()
	}
	return false
}

// kindFor maps a gateway failure to a session error kind.
//
// authAsCredentials selects how auth-class rejections are reported: on login
// they mean the submitted pair was wrong, elsewhere they mean the stored
// credential is no longer valid.
func kindFor(err error, authAsCredentials bool) error {
	cls, ok := transport.ClassOf(err)
	if !ok {
		return ErrNetwork
	}
	switch cls {
	case transport.ClassAuth:
		if authAsCredentials {
			return ErrInvalidCredentials
		}
		return ErrAuth
	case transport.ClassClient:
		var te *transport.Error
		if authAsCredentials && errors.As(err, &te) && te.Status != http.StatusUnprocessableEntity {
			return ErrInvalidCredentials
		}
		return ErrValidation
	case transport.ClassServer:
		return ErrServer
	default:
		return ErrNetwork
	}
}

func opErr(op string, err error, authAsCredentials bool) *OpError {
	msg := ""
	var te *transport.Error
	if errors.As(err, &te) {
		msg = te.Message
	}
	return &OpError{Op: op, Kind: kindFor(err, authAsCredentials), Msg: msg, Err: err}
}
