package app

import (
	"errors"
	"strings"

	"companionai/pkg/validation"
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMissingFields       = errors.New("missing required fields")
	ErrCompanionIDRequired = errors.New("companion id is required")
	ErrNotFound            = errors.New("companion not found")
	ErrForbidden           = errors.New("forbidden")
	ErrUnknownCategory     = errors.New("unknown category")
	ErrEmptyPrompt         = errors.New("prompt is required")
	ErrUnsupportedImage    = errors.New("unsupported image type")
	ErrImageTooLarge       = errors.New("image too large")
	ErrUploadsDisabled     = errors.New("image uploads are not configured")
	ErrChatDisabled        = errors.New("chat is not configured")
)

// MissingFieldsError lists the required fields absent from a request.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// ValidationError carries per-field validation failures.
type ValidationError struct {
	Fields validation.FieldErrors
}

func (e *ValidationError) Error() string {
	return e.Fields.Error()
}
