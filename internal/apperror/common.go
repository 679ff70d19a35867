package apperror

import (
	"fmt"
	"net/http"
)

var (
	ErrValidation = New(
		CodeValidation,
		"The provided input is invalid",
		http.StatusBadRequest,
	)

	ErrDimensionMismatch = New(
		CodeDimensionMismatch,
		"Embedding dimensionality does not match the roster",
		http.StatusBadRequest,
	)

	ErrInvalidRange = New(
		CodeInvalidRange,
		"Start date must not be after end date",
		http.StatusBadRequest,
	)

	ErrNotFound = New(
		CodeNotFound,
		"Resource not found",
		http.StatusNotFound,
	)

	ErrPersistence = New(
		CodePersistence,
		"Storage is unavailable",
		http.StatusServiceUnavailable,
	)

	ErrInternal = New(
		CodeInternal,
		"An unexpected error occurred",
		http.StatusInternalServerError,
	)
)

func Validation(format string, args ...any) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...), http.StatusBadRequest)
}

func DimensionMismatch(got, want int) *AppError {
	return New(CodeDimensionMismatch,
		fmt.Sprintf("embedding has %d dimensions, roster expects %d", got, want),
		http.StatusBadRequest)
}

func InvalidRange(start, end string) *AppError {
	return New(CodeInvalidRange,
		fmt.Sprintf("start %s is after end %s", start, end),
		http.StatusBadRequest)
}

func NotFound(what string) *AppError {
	return New(CodeNotFound, what+" not found", http.StatusNotFound)
}

// Persistence wraps a store failure. op names the failed operation.
func Persistence(err error, op string) *AppError {
	return Wrap(err, CodePersistence, op+" failed", http.StatusServiceUnavailable)
}
