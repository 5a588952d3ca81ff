package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShapeMismatch is the root of every shape precondition failure.
var ErrShapeMismatch = errors.New("shape mismatch")

// NewShapeMismatchError is used when an input does not have the shape an operation expects.
func NewShapeMismatchError(what string, expected, actual interface{}) error {
	return errors.Wrapf(ErrShapeMismatch, "%s: expected %v but got %v", what, expected, actual)
}

// NewConfigValidationError returns a config validation error
// occurring at a given path.
func NewConfigValidationError(path string, err error) error {
	if path == "" {
		return errors.Wrap(err, "error validating")
	}
	return errors.Wrapf(err, "error validating %q", path)
}

// NewConfigValidationFieldRequiredError returns a config validation
// error for a field missing at a given path.
func NewConfigValidationFieldRequiredError(path, field string) error {
	return NewConfigValidationError(path, errors.Errorf("%q is required", field))
}

// NewUnexpectedTypeError is used when there is a type mismatch.
func NewUnexpectedTypeError(expected interface{}, actual interface{}) error {
	return errors.Errorf("expected %T but got %T", expected, actual)
}

// JoinPath appends a field to a config path the way validation errors report it.
func JoinPath(path, field string) string {
	if path == "" {
		return field
	}
	return fmt.Sprintf("%s.%s", path, field)
}
