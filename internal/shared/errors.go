package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAuthenticated indicates the request has no resolvable user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// SafeError carries a message that may be shown to end users.
type SafeError struct {
	Message string
	Err     error
}

func (e *SafeError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SafeError) Unwrap() error { return e.Err }

// NewSafeError wraps err with a user-facing message.
func NewSafeError(message string, err error) error {
	return &SafeError{Message: message, Err: err}
}

// UserSafeMessage returns text suitable for flash messages and form errors.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var safe *SafeError
	if errors.As(err, &safe) {
		return safe.Message
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return "The requested record was not found"
	case errors.Is(err, ErrNotAuthenticated):
		return "Please sign in to continue"
	}
	return "Something went wrong, please try again"
}
