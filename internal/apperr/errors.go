// Package apperr defines the error kinds shared by the importer and the
// calculator. Callers classify failures with the Is* helpers rather than by
// matching strings.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or missing input field. Line is the
// batch file line it was found on, zero when not read from a file.
type ValidationError struct {
	Field string
	Value string
	Line  int
	Err   error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
	if e.Value != "" {
		msg = fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StorageError reports a connectivity or constraint failure in a repository.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PublishError reports a broker rejection or timeout for one message.
type PublishError struct {
	Topic string
	Key   string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s (key %q): %v", e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DeserializationError reports an inbound body that is not valid JSON.
type DeserializationError struct {
	MessageID string
	Err       error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize message %s: %v", e.MessageID, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

func Validation(field, value string, err error) error {
	return &ValidationError{Field: field, Value: value, Err: err}
}

func Storage(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func Publish(topic, key string, err error) error {
	return &PublishError{Topic: topic, Key: key, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}

func IsPublish(err error) bool {
	var target *PublishError
	return errors.As(err, &target)
}

func IsDeserialization(err error) bool {
	var target *DeserializationError
	return errors.As(err, &target)
}
