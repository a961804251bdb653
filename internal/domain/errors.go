package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures of the payment flows.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindCrypto        ErrorKind = "crypto"
	KindGateway       ErrorKind = "gateway"
	KindPersistence   ErrorKind = "persistence"
	KindOrphan        ErrorKind = "orphan"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"error"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error constructors.

func ErrNotFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

func ErrUnauthorized(msg string) *AppError {
	return &AppError{Code: http.StatusUnauthorized, Message: msg}
}

func ErrBadRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func ErrValidation(msg string) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Message: msg}
}

func ErrInternal(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: msg, Err: err}
}

// Payment flow errors.

func ErrConfiguration(msg string, err error) *AppError {
	return &AppError{Code: http.StatusServiceUnavailable, Kind: KindConfiguration, Message: msg, Err: err}
}

func ErrCrypto(msg string, err error) *AppError {
	return &AppError{Code: http.StatusUnprocessableEntity, Kind: KindCrypto, Message: msg, Err: err}
}

func ErrGateway(msg string, err error) *AppError {
	return &AppError{Code: http.StatusBadGateway, Kind: KindGateway, Message: msg, Err: err}
}

func ErrPersistence(msg string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Kind: KindPersistence, Message: msg, Err: err}
}

// AsAppError attempts to extract an AppError from an error chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Kind == kind
}
