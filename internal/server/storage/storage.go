// Package storage defines the server-side storage contract: a current-state
// document table plus an append-only change log addressed by sequence number.
package storage

import (
	"context"
	"errors"
)

// Common storage errors
var (
	// ErrDocumentNotFound indicates that the document does not exist or is deleted
	ErrDocumentNotFound = errors.New("document not found")
)

// Change log record types.
const (
	ChangeTypeDocument = "document"
	ChangeTypeDelete   = "delete"
)

// ChangeRecord is one entry of the change log.
type ChangeRecord struct {
	Seq        int64
	Collection string
	DocID      string
	Type       string
	Body       []byte // nil for deletes
}

// Storage is the persistence interface of the sync server.
type Storage interface {
	// AppendDocument upserts the document and appends a change log entry.
	AppendDocument(ctx context.Context, collection, docID string, body []byte) error
	// AppendDelete marks the document deleted and appends a delete entry.
	AppendDelete(ctx context.Context, collection, docID string) error
	// GetDocument returns the current body of a live document.
	GetDocument(ctx context.Context, collection, docID string) ([]byte, error)
	// ChangesSince returns up to limit change records with seq > since,
	// in ascending seq order, and whether more remain.
	ChangesSince(ctx context.Context, collection string, since int64, limit int) ([]ChangeRecord, bool, error)
}
