package pipestack

import (
	"fmt"

	"shmipe/pkg/pipeconfig"
	"shmipe/pkg/proto"

	"github.com/pkg/errors"
)

var (
	// Channel could not be allocated, the service is at its channel limit
	ErrOutOfMemory = errors.New("cannot allocate channel")

	// A blocking read or write was cancelled before its condition held.
	// No buffer state was changed, the call may be retried.
	ErrInterrupted = errors.New("interrupted")

	// The caller's destination could not take the data. Nothing was consumed.
	ErrIOFault = errors.New("bad address")

	// Writes by the privileged identity
	ErrPermissionDenied = errors.New("permission denied")

	ErrInvalidConfiguration = pipeconfig.ErrInvalidConfiguration

	ErrClosed   = errors.New("pipe closed")
	ErrShutdown = errors.New("pipe service shut down")
)

func interrupted(cause error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}

// Maps an operation result onto its wire status
func StatusFromError(err error) proto.Status {
	switch {
	case err == nil:
		return proto.StatusOK
	case errors.Is(err, ErrInterrupted):
		return proto.StatusInterrupted
	case errors.Is(err, ErrIOFault):
		return proto.StatusIOFault
	case errors.Is(err, ErrPermissionDenied):
		return proto.StatusPermissionDenied
	case errors.Is(err, ErrOutOfMemory):
		return proto.StatusOutOfMemory
	case errors.Is(err, ErrClosed):
		return proto.StatusClosed
	case errors.Is(err, ErrShutdown):
		return proto.StatusShutdown
	}
	return proto.StatusBadRequest
}

// The inverse of StatusFromError, used by clients
func ErrorFromStatus(status proto.Status) error {
	switch status {
	case proto.StatusOK:
		return nil
	case proto.StatusInterrupted:
		return ErrInterrupted
	case proto.StatusIOFault:
		return ErrIOFault
	case proto.StatusPermissionDenied:
		return ErrPermissionDenied
	case proto.StatusOutOfMemory:
		return ErrOutOfMemory
	case proto.StatusClosed:
		return ErrClosed
	case proto.StatusShutdown:
		return ErrShutdown
	}
	return errors.Errorf("bad request (status %d)", status)
}
