package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTTL is returned by Extend on a lock created without a TTL.
	ErrNoTTL = errors.New("lock: no ttl configured")

	// ErrClosed is returned when acquiring through a handle that was already
	// released or whose lease expired. Create a new handle instead.
	ErrClosed = errors.New("lock: handle released or expired")
)

// AcquisitionFailedError is returned by the Manager helpers when the lock
// could not be obtained within the acquire budget.
type AcquisitionFailedError struct {
	Key string
}

// IsAcquisitionFailed checks if err is acquisition failed error.
func IsAcquisitionFailed(err error) bool {
	return errors.Is(err, &AcquisitionFailedError{})
}

// AsAcquisitionFailed return err as AcquisitionFailedError or nil if it is
// not successful.
func AsAcquisitionFailed(err error) (aerr *AcquisitionFailedError, b bool) {
	if errors.As(err, &aerr) {
		return aerr, true
	}

	return nil, false
}

// Error interface method.
func (e *AcquisitionFailedError) Error() string {
	if e.Key == "" {
		return "lock: acquisition failed"
	}
	return fmt.Sprintf("lock: failed to acquire %q", e.Key)
}

// Is checks if err is AcquisitionFailedError.
func (e *AcquisitionFailedError) Is(err error) bool {
	_, ok := err.(*AcquisitionFailedError)
	return ok
}

// NotOwnedError is returned by Release and Extend when the value stored at
// the key is not the handle's token. The record was never held by the handle,
// already expired, or belongs to another holder.
type NotOwnedError struct {
	Key string
	// Op is the rejected operation, "release" or "extend".
	Op string
}

// IsNotOwned checks if err is not owned error.
func IsNotOwned(err error) bool {
	return errors.Is(err, &NotOwnedError{})
}

// AsNotOwned return err as NotOwnedError or nil if it is not successful.
func AsNotOwned(err error) (nerr *NotOwnedError, b bool) {
	if errors.As(err, &nerr) {
		return nerr, true
	}

	return nil, false
}

// Error interface method.
func (e *NotOwnedError) Error() string {
	op := e.Op
	if op == "" {
		op = "access"
	}
	return fmt.Sprintf("lock: cannot %s %q: not owned by this handle", op, e.Key)
}

// Is checks if err is NotOwnedError.
func (e *NotOwnedError) Is(err error) bool {
	_, ok := err.(*NotOwnedError)
	return ok
}
