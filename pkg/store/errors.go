package store

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks bad input: empty required names, nothing to update,
	// duplicate unique keys.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks any unexpected fault from the database.
	ErrStorage = errors.New("storage failure")
)

// Error is the typed error returned across the store boundary. Kind is one
// of ErrNotFound, ErrValidation or ErrStorage; Err is the underlying cause
// for storage failures.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func NotFound(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: msg}
}

func Invalid(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: msg}
}

// Failure wraps err as a storage failure unless it already carries a kind.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrStorage, Op: op, Msg: "database error", Err: err}
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// HTTPStatus maps an error to the status an API layer should answer with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
