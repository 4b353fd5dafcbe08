package models

import "errors"

// Error kinds shared between storage, services and the HTTP layer.
// Matched with errors.Is where the status code is produced.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
)
