package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnsupported   = errors.New("unsupported operation")
	ErrConflict      = errors.New("conditional update did not apply")
)
