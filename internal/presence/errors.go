package presence

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalid marks malformed or missing input. State is never touched.
	ErrInvalid = errors.New("invalid request")

	// ErrConflict is returned by StartSession when the observatory is
	// occupied and force was not requested. Use errors.As with
	// *ConflictError to learn who holds it.
	ErrConflict = errors.New("observatory is occupied")

	// ErrMismatch is the parent of the heartbeat failures below.
	ErrMismatch = errors.New("heartbeat rejected")

	// ErrNoSession means nobody is observing.
	ErrNoSession = fmt.Errorf("%w: no active session", ErrMismatch)

	// ErrNotOccupant means the heartbeat came from someone other than the
	// current occupant.
	ErrNotOccupant = fmt.Errorf("%w: user is not the current occupant", ErrMismatch)

	// ErrPersistence wraps snapshot save failures. The in-memory mutation
	// that triggered the save is kept.
	ErrPersistence = errors.New("snapshot persistence failed")
)

// ConflictError carries the current occupant so the caller can decide to
// retry with force.
type ConflictError struct {
	Occupant string
	Since    time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v by %s since %s", ErrConflict, e.Occupant, e.Since.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrConflict) hold.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
