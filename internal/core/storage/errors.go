package storage

import "errors"

var (
	ErrClosed       = errors.New("storage: backend is closed")
	ErrRelayClosed  = errors.New("storage: relay connection closed")
	ErrInvalidValue = errors.New("storage: stored value is malformed")
)
