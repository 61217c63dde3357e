package store

import "errors"

// Common local storage errors
var (
	// ErrNotFound indicates that the referenced document does not exist
	ErrNotFound = errors.New("document not found")

	// ErrMissingID indicates a document without an "id" field
	ErrMissingID = errors.New("document has no id")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
