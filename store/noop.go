package store

import (
	"context"
	"time"
)

// NoopStore is the owner of documents no mounted store claims. Reads find
// nothing and writes fail with ErrNoOwner.
type NoopStore struct{}

// Noop is the shared NoopStore instance.
var Noop DocumentStore = NoopStore{}

func (NoopStore) Find(context.Context, Collection, string) (*Document, error) {
	return nil, ErrNotFound
}

func (NoopStore) FindMaxAge(context.Context, Collection, string, time.Duration) (*Document, error) {
	return nil, ErrNotFound
}

func (NoopStore) Query(context.Context, Collection, string, string, int) ([]*Document, error) {
	return []*Document{}, nil
}

func (NoopStore) QueryIndexed(context.Context, Collection, string, string, string, int64, int) ([]*Document, error) {
	return []*Document{}, nil
}

func (NoopStore) Remove(context.Context, Collection, string) error { return ErrNoOwner }

func (NoopStore) RemoveAll(context.Context, Collection, []string) error { return ErrNoOwner }

func (NoopStore) RemoveIf(context.Context, Collection, map[string]Conditions) (int, error) {
	return 0, ErrNoOwner
}

func (NoopStore) Create(context.Context, Collection, []*UpdateOp) (bool, error) {
	return false, ErrNoOwner
}

func (NoopStore) Update(context.Context, Collection, []string, *UpdateOp) error { return ErrNoOwner }

func (NoopStore) CreateOrUpdate(context.Context, Collection, *UpdateOp) (*Document, error) {
	return nil, ErrNoOwner
}

func (NoopStore) FindAndUpdate(context.Context, Collection, *UpdateOp) (*Document, error) {
	return nil, ErrNoOwner
}

func (NoopStore) InvalidateCache(context.Context) error { return nil }

func (NoopStore) InvalidateCacheKeys(context.Context, Collection, []string) error { return nil }

func (NoopStore) Dispose() error { return nil }

func (NoopStore) SetReadWriteMode(string) error { return nil }

func (NoopStore) Metadata() map[string]string { return map[string]string{"type": "noop"} }
