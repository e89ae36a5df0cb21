package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidInput is returned when caller-supplied input fails validation
// before any query runs.
var ErrInvalidInput = errors.New("storage: invalid input")
