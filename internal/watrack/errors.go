package watrack

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrMissingConfig  = errors.New("missing configuration")
	ErrNotImplemented = errors.New("not implemented")
)
