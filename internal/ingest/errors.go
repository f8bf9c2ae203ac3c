package ingest

import (
	"context"
	"errors"
	"fmt"

	"ingest/internal/source"
	"ingest/internal/storage"
)

var (
	// ErrInputNotFound and ErrInputEmpty are fatal and raised before any store
	// interaction.
	ErrInputNotFound = source.ErrInputNotFound
	ErrInputEmpty    = source.ErrInputEmpty

	// ErrStoreUnavailable wraps failures to open the store or create its
	// tables.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrUnknownKind is returned by LookupKind.
	ErrUnknownKind = errors.New("unknown kind")

	// ErrInvalidOptions is returned by Options.Validate.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInterrupted is returned with a partial result when ctx ends between
	// batches.
	ErrInterrupted = errors.New("import interrupted")

	// ErrResetNotConfirmed is returned by Reset without confirmation.
	ErrResetNotConfirmed = errors.New("reset not confirmed")
)

// ErrorKind classifies an error for reporting.
type ErrorKind int

const (
	NoError ErrorKind = iota
	InputNotFound
	InputEmpty
	StoreUnavailable
	TypeCoercionAnomaly
	DuplicateKeyViolation
	MissingReferenceViolation
	TransientCommitFailure
	PermanentRecordFailure
)

func (k ErrorKind) String() string {
	switch k {
	case NoError:
		return "none"
	case InputNotFound:
		return "input_not_found"
	case InputEmpty:
		return "input_empty"
	case StoreUnavailable:
		return "store_unavailable"
	case TypeCoercionAnomaly:
		return "type_coercion_anomaly"
	case DuplicateKeyViolation:
		return "duplicate_key_violation"
	case MissingReferenceViolation:
		return "missing_reference_violation"
	case TransientCommitFailure:
		return "transient_commit_failure"
	case PermanentRecordFailure:
		return "permanent_record_failure"
	default:
		return "unknown"
	}
}

// Fatal reports whether the kind aborts a run before a summary.
func (k ErrorKind) Fatal() bool {
	return k == InputNotFound || k == InputEmpty || k == StoreUnavailable
}

// Classify maps err to its ErrorKind. Anything unrecognized is a
// PermanentRecordFailure.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return NoError
	case errors.Is(err, ErrInputNotFound):
		return InputNotFound
	case errors.Is(err, ErrInputEmpty):
		return InputEmpty
	case errors.Is(err, ErrStoreUnavailable):
		return StoreUnavailable
	case errors.Is(err, storage.ErrDuplicateKey):
		return DuplicateKeyViolation
	case errors.Is(err, ErrInterrupted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return TransientCommitFailure
	default:
		return PermanentRecordFailure
	}
}

var errShortKeySets = errors.New("store returned fewer key sets than references")

func interrupted(cause error) error { return fmt.Errorf("%w: %w", ErrInterrupted, cause) }
