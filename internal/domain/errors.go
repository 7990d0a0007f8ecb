package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRoomNotFound             = errors.New("room not found")
	ErrRoomAlreadyExists        = errors.New("room already exists")
	ErrRoomClosed               = errors.New("room is closed")
	ErrNotMember                = errors.New("not a participant of the room")
	ErrAlreadyMember            = errors.New("already a participant of the room")
	ErrInactive                 = errors.New("participant is inactive in the room")
	ErrAlreadyInactive          = errors.New("participant is already inactive")
	ErrInsufficientRole         = errors.New("insufficient role")
	ErrInsufficientParticipants = errors.New("insufficient participants")
	ErrInvalidPeer              = errors.New("private room needs exactly one peer other than the creator")
	ErrJoinForbidden            = errors.New("room cannot be joined without an invitation")
	ErrNoTargets                = errors.New("no invitation targets")
	ErrAuthMismatch             = errors.New("declared sender does not match authenticated caller")
	ErrMalformedCommand         = errors.New("malformed command")
	ErrStoreUnavailable         = errors.New("store unavailable")
	ErrRateLimited              = errors.New("rate limit exceeded")
)

type ErrorKind int

const (
	// AuthMismatch and Malformed are fatal: the command is dead-lettered.
	AuthMismatch ErrorKind = iota + 1
	Malformed
	// DomainViolation is reported as an ERROR event and discarded.
	DomainViolation
	// NotFoundTransient and StoreUnavailable are retried.
	NotFoundTransient
	StoreUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case AuthMismatch:
		return "auth_mismatch"
	case Malformed:
		return "malformed"
	case DomainViolation:
		return "domain_violation"
	case NotFoundTransient:
		return "not_found_transient"
	case StoreUnavailable:
		return "store_unavailable"
	}
	return "unknown"
}

type CommandError struct {
	Kind   ErrorKind
	Op     string
	RoomID string
	Err    error
}

func NewCommandError(kind ErrorKind, op, roomID string, err error) *CommandError {
	return &CommandError{Kind: kind, Op: op, RoomID: roomID, Err: err}
}

func (e *CommandError) Error() string {
	if e.RoomID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first CommandError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var cerr *CommandError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err must be dead-lettered without a retry.
func IsFatal(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == AuthMismatch || kind == Malformed)
}

// IsRetryable reports whether err may succeed on redelivery. Errors that
// were never classified are treated as infrastructure failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	if !ok {
		return true
	}
	return kind == NotFoundTransient || kind == StoreUnavailable
}
