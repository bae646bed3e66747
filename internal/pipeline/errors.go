package pipeline

import "errors"

// Errors that abort an import before anything is written.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrFileTooLarge      = errors.New("file too large")
	ErrEmptyFile         = errors.New("file is empty")
	ErrTooFewRows        = errors.New("file must contain a header row and at least one data row")
	ErrInvalidJSON       = errors.New("invalid JSON: expected an array of objects")
)
