package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidRequest   = errors.New("invalid generation request")
	ErrAlreadyCompleted = errors.New("blueprint already completed")
	ErrQueueFull        = errors.New("dispatch queue full")
	ErrJobClaimLost     = errors.New("job claim lost")
)
