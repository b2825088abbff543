package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidServer indicates a server record is missing required fields.
	ErrInvalidServer = errors.New("invalid server")
	// ErrInvalidCredentials indicates conflicting or incomplete credential material.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrServerNotFound indicates a server record could not be found.
	ErrServerNotFound = errors.New("server not found")
	// ErrServerExists indicates a server record with the same name exists.
	ErrServerExists = errors.New("server already exists")
	// ErrAmbiguousServer indicates a name query matched more than one server equally well.
	ErrAmbiguousServer = errors.New("server name is ambiguous")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrInvalidTab indicates a tab descriptor is malformed.
	ErrInvalidTab = errors.New("invalid tab")
	// ErrBackendUnavailable indicates no backend is configured or reachable.
	ErrBackendUnavailable = errors.New("backend not available")
	// ErrDeckClosed indicates the deck has been shut down.
	ErrDeckClosed = errors.New("deck closed")
)

// BackendErrorCode classifies backend rejections.
type BackendErrorCode string

const (
	// BackendErrorConnection indicates the host could not be reached.
	BackendErrorConnection BackendErrorCode = "CONNECTION_ERROR"
	// BackendErrorAuth indicates authentication was rejected.
	BackendErrorAuth BackendErrorCode = "AUTH_FAILED"
	// BackendErrorNotFound indicates the referenced server or session is unknown.
	BackendErrorNotFound BackendErrorCode = "NOT_FOUND"
	// BackendErrorSession indicates the session channel failed.
	BackendErrorSession BackendErrorCode = "SESSION_ERROR"
	// BackendErrorInvalid indicates the backend rejected the request shape.
	BackendErrorInvalid BackendErrorCode = "INVALID_REQUEST"
	// BackendErrorUnknown is an uncategorized backend failure.
	BackendErrorUnknown BackendErrorCode = "UNKNOWN"
)

// BackendError is a rejection reported by the backend. Its message is shown to the user unaltered.
type BackendError struct {
	Code    BackendErrorCode
	Message string
	Err     error
}

// NewBackendError constructs a classified backend error.
func NewBackendError(code BackendErrorCode, message string) *BackendError {
	return &BackendError{Code: code, Message: message}
}

func (e *BackendError) Error() string {
	if e == nil {
		return "backend error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "backend error"
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BackendErrorCodeOf returns the code of a wrapped BackendError, or BackendErrorUnknown.
func BackendErrorCodeOf(err error) BackendErrorCode {
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.Code != "" {
		return backendErr.Code
	}
	return BackendErrorUnknown
}
