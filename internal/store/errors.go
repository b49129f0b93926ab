package store

import "errors"

var (
	ErrNotFound     = errors.New("entity not found")
	ErrUnauthorized = errors.New("entity belongs to a different user")
)
