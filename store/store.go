package store

import (
	"context"
	"time"
)

// DocumentStore is the capability every backing store implements, including
// the router itself.
type DocumentStore interface {
	// Find returns the document with id, or ErrNotFound.
	Find(ctx context.Context, c Collection, id string) (*Document, error)

	// FindMaxAge is like Find but accepts a cached copy no older than maxAge.
	FindMaxAge(ctx context.Context, c Collection, id string, maxAge time.Duration) (*Document, error)

	// Query returns documents with fromID < id < toID in id order, at most
	// limit of them.
	Query(ctx context.Context, c Collection, fromID, toID string, limit int) ([]*Document, error)

	// QueryIndexed is like Query but only returns documents whose numeric
	// property indexedProperty is >= startValue.
	QueryIndexed(ctx context.Context, c Collection, fromID, toID, indexedProperty string, startValue int64, limit int) ([]*Document, error)

	// Remove deletes a document. Absent documents are ignored.
	Remove(ctx context.Context, c Collection, id string) error

	// RemoveAll deletes documents. Absent documents are ignored.
	RemoveAll(ctx context.Context, c Collection, ids []string) error

	// RemoveIf deletes each document whose own conditions hold and returns
	// the number removed.
	RemoveIf(ctx context.Context, c Collection, toRemove map[string]Conditions) (int, error)

	// Create inserts new documents. It returns false if any of them could not
	// be created.
	Create(ctx context.Context, c Collection, ops []*UpdateOp) (bool, error)

	// Update applies op to each existing document in ids.
	Update(ctx context.Context, c Collection, ids []string, op *UpdateOp) error

	// CreateOrUpdate applies op, creating the document if needed, and returns
	// the previous version (nil if it did not exist).
	CreateOrUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error)

	// FindAndUpdate applies op to an existing document whose conditions hold
	// and returns the previous version, or nil if nothing was updated.
	FindAndUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error)

	// InvalidateCache drops all cached documents.
	InvalidateCache(ctx context.Context) error

	// InvalidateCacheKeys drops the cached copies of the given documents.
	InvalidateCacheKeys(ctx context.Context, c Collection, ids []string) error

	// Dispose releases the store's resources.
	Dispose() error

	// SetReadWriteMode switches the store between read-write ("rw") and
	// read-only ("r") operation.
	SetReadWriteMode(mode string) error

	// Metadata describes the store.
	Metadata() map[string]string
}

// Read-write modes accepted by SetReadWriteMode.
const (
	ModeReadWrite = "rw"
	ModeReadOnly  = "r"
)

// QueryAll pages through Query in batches and returns every document in the
// exclusive range.
func QueryAll(ctx context.Context, s DocumentStore, c Collection, fromID, toID string, batch int) ([]*Document, error) {
	if batch < 1 {
		batch = 100
	}
	var all []*Document
	for {
		docs, err := s.Query(ctx, c, fromID, toID, batch)
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if len(docs) < batch {
			return all, nil
		}
		fromID = docs[len(docs)-1].ID
	}
}
