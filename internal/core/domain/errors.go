package domain

import "errors"

var (
	ErrStagingAllocation     = errors.New("staging allocation failed")
	ErrSourcePreparation     = errors.New("source preparation failed")
	ErrProvisioning          = errors.New("container provisioning failed")
	ErrExecutionFault        = errors.New("execution fault")
	ErrTimeoutExceeded       = errors.New("build timed out")
	ErrCancellationRequested = errors.New("build cancelled")
	ErrNotFound              = errors.New("no such build")
	ErrSaturated             = errors.New("build queue is full")
	ErrTeardown              = errors.New("teardown failed")
	ErrUnknownKind           = errors.New("unknown kind")
	ErrInvalidRequest        = errors.New("invalid build request")
)
