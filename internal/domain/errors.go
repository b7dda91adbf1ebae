package domain

import "errors"

var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrNotFound            = errors.New("not found")
	ErrInvalidEvent        = errors.New("invalid event")
)
