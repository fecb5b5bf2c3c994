package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperator is returned for $-prefixed keys that are neither
	// supported nor whitelisted.
	ErrInvalidOperator = errors.New("invalid query operator")
	// ErrInvalidQuery is returned for operators given a value of the wrong shape.
	ErrInvalidQuery = errors.New("invalid query")
)

// OperatorError reports a rejected operator and where it was found.
type OperatorError struct {
	Operator string
	Path     string
}

func (e *OperatorError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidOperator, e.Operator)
	}
	return fmt.Sprintf("%s: %s at %s", ErrInvalidOperator, e.Operator, e.Path)
}

func (e *OperatorError) Unwrap() error { return ErrInvalidOperator }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
