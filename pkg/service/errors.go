package service

import "errors"

var (
	// ErrPersistenceNotExists is returned by Store.Load when nothing has
	// been saved under the key yet.
	ErrPersistenceNotExists = errors.New("persistent state does not exist")

	// ErrPickNotFound is returned when a pick id does not exist.
	ErrPickNotFound = errors.New("pick not found")

	// ErrBracketNotFound is returned when a bracket request id does not
	// exist.
	ErrBracketNotFound = errors.New("bracket request not found")

	// ErrStaleTransition is returned when a conditional status write
	// matched no row: the pick moved on since it was read.
	ErrStaleTransition = errors.New("stale pick transition")

	// ErrBracketClaimed is returned when a claim races another worker.
	ErrBracketClaimed = errors.New("bracket request already claimed")
)
