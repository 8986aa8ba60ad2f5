// Package apperr holds the error classes shared by the oracle and the voting engine.
// Concrete errors wrap one of these so callers can branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrTooEarly     = fmt.Errorf("%w: too early", ErrValidation)
	ErrConflict     = fmt.Errorf("%w: conflicting state", ErrValidation)
)

func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func Unauthorized(msg string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
}

func NotFound(msg string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, msg)
}

func TooEarly(msg string) error {
	return fmt.Errorf("%w: %s", ErrTooEarly, msg)
}

func Conflict(msg string) error {
	return fmt.Errorf("%w: %s", ErrConflict, msg)
}
