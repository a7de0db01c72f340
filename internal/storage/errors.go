package storage

import "errors"

// Storage error constants
var (
	// ErrNotInitialized is returned by every Facade call issued before Initialize completes.
	ErrNotInitialized = errors.New("storage not initialized")

	// ErrInitialization wraps any failure of the startup migration sequence.
	ErrInitialization = errors.New("cannot initialize storage")

	// ErrRejectedStatement is returned when a statement does not have the shape its
	// entry point expects. It is a programmer error and is never retried.
	ErrRejectedStatement = errors.New("statement rejected")

	// ErrUnknownTable is returned by table helpers for tables outside the allow-list.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidParam is returned when a parameter fails sanitization.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrInvalidID is returned when a row id is not a positive integer.
	ErrInvalidID = errors.New("invalid id")

	// ErrNotFound is returned by Update and Delete when no row has the given id.
	ErrNotFound = errors.New("not found")
)
