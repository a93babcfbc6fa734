package store

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrUnknownCollection  = errors.New("unknown collection")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("store closed")
)
