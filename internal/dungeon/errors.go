package dungeon

import (
	"errors"
)

// Validation errors. The caller asked for something the session's state does not allow.
var (
	ErrNoSession       = errors.New("no open dungeon session")
	ErrNoPausedSession = errors.New("session is not awaiting a choice")
	ErrInvalidChoice   = errors.New("choice index out of range")
)

// ErrConflict is returned by Start when the owner already has an ACTIVE or PAUSED session.
var ErrConflict = errors.New("owner already has an open dungeon session")

// Concurrency errors. Neither leaves a partial effect behind.
var (
	// ErrSessionBusy means another operation holds the session; ticks skip instead of waiting.
	ErrSessionBusy = errors.New("session is busy")
	// ErrStaleSession means the session was written by someone else between load and save.
	ErrStaleSession = errors.New("session changed concurrently")
	// ErrNotActive means a tick found the session paused or ended.
	ErrNotActive = errors.New("session is not active")
)

// PersistenceError wraps a repository failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "dungeon " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a user-correctable validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoSession) ||
		errors.Is(err, ErrNoPausedSession) ||
		errors.Is(err, ErrInvalidChoice)
}

// IsTransient reports whether retrying the same operation may succeed.
func IsTransient(err error) bool {
	var pe *PersistenceError
	return errors.Is(err, ErrStaleSession) || errors.Is(err, ErrSessionBusy) || errors.As(err, &pe)
}
