package identity

import (
	"errors"
	"fmt"
)

// Code classifies identity failures the way clients branch on them.
type Code string

const (
	CodeInvalidEmail      Code = "invalid-email"
	CodeUserNotFound      Code = "user-not-found"
	CodeWrongPassword     Code = "wrong-password"
	CodeUserDisabled      Code = "user-disabled"
	CodeEmailAlreadyInUse Code = "email-already-in-use"
	CodeWeakPassword      Code = "weak-password"
	CodeMissingFields     Code = "missing-fields"
	CodeUnknown           Code = "unknown"
)

// Error carries a Code and, for unknown failures, the underlying cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity: %s: %v", e.Code, e.Err)
	}
	return "identity: " + string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidEmail      = &Error{Code: CodeInvalidEmail}
	ErrUserNotFound      = &Error{Code: CodeUserNotFound}
	ErrWrongPassword     = &Error{Code: CodeWrongPassword}
	ErrUserDisabled      = &Error{Code: CodeUserDisabled}
	ErrEmailAlreadyInUse = &Error{Code: CodeEmailAlreadyInUse}
	ErrWeakPassword      = &Error{Code: CodeWeakPassword}
	ErrMissingFields     = &Error{Code: CodeMissingFields}
)

// ErrSignedOut is returned by CurrentUser when the context carries no session.
var ErrSignedOut = errors.New("identity: no signed-in user")

func unknown(err error) error {
	return &Error{Code: CodeUnknown, Err: err}
}

// CodeOf returns the code of err, CodeUnknown for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var idErr *Error
	if errors.As(err, &idErr) {
		return idErr.Code
	}
	return CodeUnknown
}

// SignInMessage is the text shown when sign-in fails with err.
func SignInMessage(err error) string {
	switch CodeOf(err) {
	case CodeMissingFields:
		return "Please enter both email and password."
	case CodeInvalidEmail:
		return "Invalid email address format."
	case CodeUserDisabled:
		return "Your account has been disabled. Please contact support."
	case CodeUserNotFound:
		return "No account found with this email."
	case CodeWrongPassword:
		return "Incorrect password. Please try again."
	default:
		return "Login failed. Please try again."
	}
}

// SignUpMessage is the text shown when sign-up fails with err.
func SignUpMessage(err error) string {
	switch CodeOf(err) {
	case CodeMissingFields:
		return "Please fill in all fields."
	case CodeEmailAlreadyInUse:
		return "This email is already in use."
	case CodeInvalidEmail:
		return "Invalid email address format."
	case CodeWeakPassword:
		return "Password should be at least 6 characters long."
	default:
		return "Sign up failed. Please try again."
	}
}
