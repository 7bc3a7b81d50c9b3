package domain

import "errors"

var (
	// ErrNotFound is returned when a fetch-by-id finds no object.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEventData is returned when event data is missing fields its kind requires.
	ErrInvalidEventData = errors.New("invalid event data")

	// ErrUnsupported is returned for operations a network family does not provide.
	ErrUnsupported = errors.New("not supported by network")
)
