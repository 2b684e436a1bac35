package store

import "errors"

// ErrNotFound is returned when an interaction or message id is unknown.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned when operating on a closed store.
var ErrClosed = errors.New("store closed")
