package storage

import "errors"

// Errors returned by store operations. Callers match them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidSearchField = errors.New("invalid search field")
	ErrInvalidItem        = errors.New("invalid item")
	ErrEmptyOrder         = errors.New("order must contain at least one item")
)
