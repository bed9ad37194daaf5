package services

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotActive is returned when sending through a tenant with no live connection.
	// The caller has to start a session first; nothing is retried.
	ErrSessionNotActive = errors.New("session not active")

	// ErrInvalidRequest wraps validation failures of API input
	ErrInvalidRequest = errors.New("invalid request")
)

// EstablishError records why a transport connection could not be established.
// It is never returned by Start; the session is persisted as ERROR instead.
type EstablishError struct {
	Key string
	Err error
}

func (e *EstablishError) Error() string {
	return fmt.Sprintf("establish session %s: %v", e.Key, e.Err)
}

func (e *EstablishError) Unwrap() error {
	return e.Err
}

// StoreWriteError is a persistence failure. It never rolls back a transport action already taken.
type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

func storeWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreWriteError{Op: op, Err: err}
}

func invalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}
