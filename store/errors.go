package store

import "errors"

var (
	// ErrNotFound is returned when a document doesn't exist in the store.
	ErrNotFound = errors.New("docmux: document not found")

	// ErrMalformedKey is returned when a raw id matches neither the path form
	// nor the hashed or split forms.
	ErrMalformedKey = errors.New("docmux: malformed document key")

	// ErrNoOwner is returned by writes that reached the no-op store, i.e. the
	// document has no resolvable owning store.
	ErrNoOwner = errors.New("docmux: no owning store for document")

	// ErrAlreadyExists is returned when creating a document whose id is taken.
	ErrAlreadyExists = errors.New("docmux: document already exists")

	// ErrConcurrentModification is returned when the optimistic lock on a
	// document's modification count fails after all retries.
	ErrConcurrentModification = errors.New("docmux: document was modified concurrently")

	// ErrDuplicateValue is returned when a unique index value is already taken.
	ErrDuplicateValue = errors.New("docmux: duplicate value for unique index")

	// ErrReadOnly is returned by writes while the store is in read-only mode.
	ErrReadOnly = errors.New("docmux: store is read-only")
)
