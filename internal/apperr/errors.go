package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrGeneration    = errors.New("generation failed")
	ErrStale         = errors.New("stale generation result")
)
