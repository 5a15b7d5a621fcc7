package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeValidation       = "validation_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeStoreWrite       = "store_write_error"
	ErrCodeStoreRead        = "store_read_error"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeNotJoined        = "not_joined"
	ErrCodeAlreadyJoined    = "already_joined"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrStoreWrite       = errors.New("store write failed")
	ErrStoreRead        = errors.New("store read failed")
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrNotJoined        = errors.New("not joined to a lobby")
	ErrAlreadyJoined    = errors.New("already joined to a lobby")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that belongs to the error code.
func (e *CoreError) Is(target error) bool {
	return sentinels[e.Code] == target
}

var sentinels = map[string]error{
	ErrCodeValidation:       ErrValidation,
	ErrCodeNotFound:         ErrLobbyNotFound,
	ErrCodeStoreWrite:       ErrStoreWrite,
	ErrCodeStoreRead:        ErrStoreRead,
	ErrCodePermissionDenied: ErrPermissionDenied,
	ErrCodeNotJoined:        ErrNotJoined,
	ErrCodeAlreadyJoined:    ErrAlreadyJoined,
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

func wrapError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}

// errJoinAbandoned is returned by a join that Leave overtook.
var errJoinAbandoned = coreError(ErrCodeNotJoined, "left the lobby before the join completed")
