package ledger

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrInvalidSpeaker is returned before any storage access when a speaker name is empty or too long.
	ErrInvalidSpeaker = errors.New("invalid speaker name")
	// ErrContention is returned when a write still conflicts after its single retry.
	ErrContention = errors.New("storage contention")
)

// ErrorClass groups ledger failures by how callers should surface them.
type ErrorClass int

const (
	// ClassNone means there was no error.
	ClassNone ErrorClass = iota
	// ClassValidation is a caller mistake; show it to the user.
	ClassValidation
	// ClassContention is a transient storage conflict that survived the retry.
	ClassContention
	// ClassInternal is anything else.
	ClassInternal
)

// String returns the label used in logs and metrics.
func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return ""
	case ClassValidation:
		return "validation"
	case ClassContention:
		return "contention"
	default:
		return "internal"
	}
}

// Classify maps an error returned by the ledger to its class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrInvalidSpeaker):
		return ClassValidation
	case errors.Is(err, ErrContention), isContention(err):
		return ClassContention
	default:
		return ClassInternal
	}
}

// Postgres SQLSTATE codes treated as transient write conflicts.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// isContention reports whether err is a Postgres error worth retrying once.
// A foreign key violation here means the speaker was deleted between the upsert and the insert.
func isContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeForeignKeyViolation, codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}
