package utils

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the detector, dispatcher and coordinator.
var (
	// ErrInsufficientData means there were no fittable observations; the cycle is skipped.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrChannelDelivery wraps a single channel's failed delivery attempt.
	ErrChannelDelivery = errors.New("channel delivery failure")
	// ErrStorePersistence aborts the current cycle without further commits.
	ErrStorePersistence = errors.New("store persistence failure")
	// ErrMalformedObservation marks a stored row that could not be decoded.
	ErrMalformedObservation = errors.New("malformed observation")
	// ErrCycleInProgress is returned when another cycle holds the run lock.
	ErrCycleInProgress = errors.New("cycle already in progress")
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// PersistenceError tags err as a store persistence failure for op. The underlying error
// stays reachable through errors.Is / errors.As.
func PersistenceError(op string, err error) error {
	return &AppError{Op: op, Msg: ErrStorePersistence.Error(), Err: errors.Join(ErrStorePersistence, err)}
}

// DeliveryError tags err as a delivery failure on the named channel.
func DeliveryError(channel string, err error) error {
	return &AppError{Op: "deliver " + channel, Msg: ErrChannelDelivery.Error(), Err: errors.Join(ErrChannelDelivery, err)}
}
