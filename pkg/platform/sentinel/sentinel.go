// Package sentinel holds the store-level error facts shared by all stores.
// Services translate them into domain errors; handlers never see them.
package sentinel

import "errors"

var (
	// ErrNotFound covers missing, expired and already redeemed entries alike,
	// so callers cannot tell which one happened.
	ErrNotFound = errors.New("not found")
	// ErrConflict is a write that lost to an existing key.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState is a request a store refuses outright, such as a non-positive TTL.
	ErrInvalidState = errors.New("invalid state")
)
