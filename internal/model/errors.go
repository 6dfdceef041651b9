package model

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrNotInitialized = errors.New("not init yet")
	ErrValidation     = errors.New("validation error")
)
