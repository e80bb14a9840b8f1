package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process DocumentStore. It backs tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[Collection]map[string]*Document
	readOnly bool
	disposed bool
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{docs: make(map[Collection]map[string]*Document)}
}

func (m *MemoryStore) Find(ctx context.Context, c Collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[c][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Copy(), nil
}

// FindMaxAge ignores maxAge: the memory store never serves stale copies.
func (m *MemoryStore) FindMaxAge(ctx context.Context, c Collection, id string, _ time.Duration) (*Document, error) {
	return m.Find(ctx, c, id)
}

func (m *MemoryStore) Query(ctx context.Context, c Collection, fromID, toID string, limit int) ([]*Document, error) {
	return m.query(c, fromID, toID, limit, nil)
}

func (m *MemoryStore) QueryIndexed(ctx context.Context, c Collection, fromID, toID, indexedProperty string, startValue int64, limit int) ([]*Document, error) {
	return m.query(c, fromID, toID, limit, func(d *Document) bool {
		v, ok := d.Get(indexedProperty)
		return ok && CompareValues(v, startValue) >= 0
	})
}

func (m *MemoryStore) query(c Collection, fromID, toID string, limit int, keep func(*Document) bool) ([]*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.docs[c] {
		if id > fromID && id < toID {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	result := []*Document{}
	for _, id := range ids {
		if limit > 0 && len(result) >= limit {
			break
		}
		doc := m.docs[c][id]
		if keep != nil && !keep(doc) {
			continue
		}
		result = append(result, doc.Copy())
	}
	return result, nil
}

func (m *MemoryStore) Remove(ctx context.Context, c Collection, id string) error {
	return m.RemoveAll(ctx, c, []string{id})
}

func (m *MemoryStore) RemoveAll(ctx context.Context, c Collection, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}
	for _, id := range ids {
		delete(m.docs[c], id)
	}
	return nil
}

func (m *MemoryStore) RemoveIf(ctx context.Context, c Collection, toRemove map[string]Conditions) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return 0, ErrReadOnly
	}
	removed := 0
	for id, conds := range toRemove {
		doc, ok := m.docs[c][id]
		if !ok || !conds.Matches(doc) {
			continue
		}
		delete(m.docs[c], id)
		removed++
	}
	return removed, nil
}

// Create inserts all ops or none of them.
func (m *MemoryStore) Create(ctx context.Context, c Collection, ops []*UpdateOp) (bool, error) {
	if len(ops) == 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return false, ErrReadOnly
	}

	created := make([]*Document, 0, len(ops))
	for _, op := range ops {
		if _, exists := m.docs[c][op.ID]; exists {
			return false, nil
		}
		doc, err := ApplyUpdate(nil, op)
		if err != nil {
			return false, err
		}
		created = append(created, doc)
	}
	for _, doc := range created {
		m.collection(c)[doc.ID] = doc
	}
	return true, nil
}

func (m *MemoryStore) Update(ctx context.Context, c Collection, ids []string, op *UpdateOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return ErrReadOnly
	}
	for _, id := range ids {
		doc, ok := m.docs[c][id]
		if !ok || !op.Conditions.Matches(doc) {
			continue
		}
		next, err := ApplyUpdate(doc, op)
		if err != nil {
			return err
		}
		m.docs[c][id] = next
	}
	return nil
}

func (m *MemoryStore) CreateOrUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return nil, ErrReadOnly
	}
	old := m.docs[c][op.ID]
	next, err := ApplyUpdate(old, op)
	if err != nil {
		return nil, err
	}
	m.collection(c)[op.ID] = next
	return old.Copy(), nil
}

func (m *MemoryStore) FindAndUpdate(ctx context.Context, c Collection, op *UpdateOp) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readOnly {
		return nil, ErrReadOnly
	}
	old, ok := m.docs[c][op.ID]
	if !ok || !op.Conditions.Matches(old) {
		return nil, nil
	}
	next, err := ApplyUpdate(old, op)
	if err != nil {
		return nil, err
	}
	m.docs[c][op.ID] = next
	return old.Copy(), nil
}

func (m *MemoryStore) InvalidateCache(context.Context) error { return nil }

func (m *MemoryStore) InvalidateCacheKeys(context.Context, Collection, []string) error { return nil }

func (m *MemoryStore) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disposed = true
	return nil
}

// Disposed reports whether Dispose was called.
func (m *MemoryStore) Disposed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disposed
}

func (m *MemoryStore) SetReadWriteMode(mode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly = strings.TrimSpace(mode) == ModeReadOnly
	return nil
}

func (m *MemoryStore) Metadata() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mode := ModeReadWrite
	if m.readOnly {
		mode = ModeReadOnly
	}
	return map[string]string{"type": "memory", "mode": mode}
}

// Len returns the number of documents in a collection.
func (m *MemoryStore) Len(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[c])
}

func (m *MemoryStore) collection(c Collection) map[string]*Document {
	coll, ok := m.docs[c]
	if !ok {
		coll = make(map[string]*Document)
		m.docs[c] = coll
	}
	return coll
}
