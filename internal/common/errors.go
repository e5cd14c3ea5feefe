package common

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable means the local store could not be opened or used.
	// Offline capability is disabled while it persists.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrRemoteUnavailable covers every remote failure the subsystem retries
	// later: network, permission and quota errors alike.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrNotFound is the normal outcome of a lookup by id that found nothing.
	ErrNotFound = errors.New("record not found")

	// ErrOffline is returned when an operation needs connectivity.
	ErrOffline = errors.New("offline")

	// ErrSyncInProgress is returned when a sync pass is already running.
	ErrSyncInProgress = errors.New("sync pass already in progress")
)

// RemoteError wraps a failed remote store call.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is makes every RemoteError match ErrRemoteUnavailable.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}

// NewRemoteError wraps err unless it is nil or a not-found result.
func NewRemoteError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

// StorageError wraps a failed local store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// QueueReplayError records a pending entry that failed remote replay.
// The entry stays queued.
type QueueReplayError struct {
	EntryID  string
	Action   string
	EntityID string
	Err      error
}

func (e *QueueReplayError) Error() string {
	return fmt.Sprintf("replay of %s entry %s for %s failed: %v", e.Action, e.EntryID, e.EntityID, e.Err)
}

func (e *QueueReplayError) Unwrap() error {
	return e.Err
}

// ValidationError rejects an invoice before it is written anywhere.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
