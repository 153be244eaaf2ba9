// Package kgerr defines the closed error taxonomy of the knowledge engine.
//
// Callers branch on these with errors.Is / errors.As:
//
//	if kgerr.IsNotFound(err) { ... }
//	var vc *kgerr.VersionConflictError
//	if errors.As(err, &vc) { retryFrom(vc.Current) }
package kgerr

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/apptype"
)

var (
	// ErrNotFound: entity or conflict absent (or tombstoned).
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID: create collision on a caller-assigned id.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrRetryExhausted: the bounded merge CAS loop could not land under
	// contention. Transient; the caller may retry the whole operation.
	ErrRetryExhausted = errors.New("retry exhausted")
	// ErrIndexUnavailable: the search infrastructure is unreachable. Isolated
	// from the write path, never fatal to a mutation.
	ErrIndexUnavailable = errors.New("search index unavailable")
	// ErrStorage: the backing store is unreachable. Fatal to the operation;
	// callers retry with backoff.
	ErrStorage = errors.New("storage error")
)

// VersionConflictError reports a stale write. Current carries the stored
// entity so the caller can re-read and retry without another round trip.
type VersionConflictError struct {
	EntityID        string
	ExpectedVersion int64
	CurrentVersion  int64
	Current         *apptype.KnowledgeEntity
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on entity %s: expected version %d, current %d",
		e.EntityID, e.ExpectedVersion, e.CurrentVersion)
}

// NewVersionConflict builds a VersionConflictError from the stored entity.
func NewVersionConflict(expected int64, current *apptype.KnowledgeEntity) error {
	return &VersionConflictError{
		EntityID:        current.ID,
		ExpectedVersion: expected,
		CurrentVersion:  current.Version,
		Current:         current,
	}
}

// IsVersionConflict reports whether err is (or wraps) a stale-write conflict.
func IsVersionConflict(err error) bool {
	var vc *VersionConflictError
	return errors.As(err, &vc)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicateID reports whether err is (or wraps) ErrDuplicateID.
func IsDuplicateID(err error) bool { return errors.Is(err, ErrDuplicateID) }

// IsRetryExhausted reports whether err is (or wraps) ErrRetryExhausted.
func IsRetryExhausted(err error) bool { return errors.Is(err, ErrRetryExhausted) }

// IsIndexUnavailable reports whether err is (or wraps) ErrIndexUnavailable.
func IsIndexUnavailable(err error) bool { return errors.Is(err, ErrIndexUnavailable) }

// Storage wraps a driver error as an ErrStorage with context.
func Storage(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrStorage)
}
