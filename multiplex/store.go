// Package multiplex presents several mounted document stores as one.
//
// Every node document is owned by exactly one store: the store of the mount
// owning the document's path. Documents of other collections always live in
// the default mount's store.
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/store"
)

var (
	// ErrAmbiguousOwner is returned by writes whose document id carries no
	// path and no originating path was given.
	ErrAmbiguousOwner = errors.New("docmux: cannot resolve owning store")

	// ErrNoRootStore is returned by New when the default mount has no store.
	ErrNoRootStore = errors.New("docmux: no store for the default mount")
)

// Ambiguity selects what resolution does for ids without a path.
type Ambiguity int

const (
	// FailFast rejects the operation.
	FailFast Ambiguity = iota
	// ProbeAll looks the document up in every mounted store in turn and
	// falls back to store.Noop when none has it.
	ProbeAll
)

func (a Ambiguity) String() string {
	switch a {
	case FailFast:
		return "fail-fast"
	case ProbeAll:
		return "probe-all"
	}
	return fmt.Sprintf("Ambiguity(%d)", int(a))
}

// MountedStore pairs a mount with the store holding its documents.
type MountedStore struct {
	Mount *mount.Mount
	Store store.DocumentStore
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store routes document operations to the stores of a mount table.
// It is immutable after New and safe for concurrent use as far as the
// mounted stores are.
type Store struct {
	provider *mount.Provider
	root     MountedStore
	mounted  []MountedStore
	byMount  map[*mount.Mount]store.DocumentStore
	logger   *slog.Logger
}

var _ store.DocumentStore = (*Store)(nil)

// New creates a router over provider. stores maps mount names to their
// stores; mount.DefaultName keys the root store. Every mount needs a store.
func New(provider *mount.Provider, stores map[string]store.DocumentStore, opts ...Option) (*Store, error) {
	if provider == nil || provider.DefaultMount() == nil {
		return nil, mount.ErrNoDefaultMount
	}
	root, ok := stores[mount.DefaultName]
	if !ok || root == nil {
		return nil, ErrNoRootStore
	}

	s := &Store{
		provider: provider,
		root:     MountedStore{Mount: provider.DefaultMount(), Store: root},
		byMount:  make(map[*mount.Mount]store.DocumentStore, len(stores)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mounted = append(s.mounted, s.root)
	s.byMount[s.root.Mount] = root
	for _, m := range provider.NonDefaultMounts() {
		ds, ok := stores[m.Name()]
		if !ok || ds == nil {
			return nil, fmt.Errorf("no store for mount %s", m.Name())
		}
		s.mounted = append(s.mounted, MountedStore{Mount: m, Store: ds})
		s.byMount[m] = ds
	}
	for name := range stores {
		if provider.MountByName(name) == nil {
			return nil, fmt.Errorf("store given for unknown mount %s", name)
		}
	}
	return s, nil
}

// Provider returns the mount table.
func (s *Store) Provider() *mount.Provider { return s.provider }

// Root returns the default mount's store.
func (s *Store) Root() store.DocumentStore { return s.root.Store }

// MountedStores returns every mount with its store, default mount first.
func (s *Store) MountedStores() []MountedStore {
	return slices.Clone(s.mounted)
}

// StoreFor returns the store of m, or nil if m is not part of this router.
func (s *Store) StoreFor(m *mount.Mount) store.DocumentStore {
	return s.byMount[m]
}

// Owner returns the store owning id under the given ambiguity policy.
func (s *Store) Owner(ctx context.Context, c store.Collection, id string, policy Ambiguity) (store.DocumentStore, error) {
	ms, _, err := s.owner(ctx, c, id, "", policy)
	if err != nil {
		return nil, err
	}
	return ms.Store, nil
}

// owner resolves the store of id. A non-empty origin takes the place of the
// id's own path. When ProbeAll finds the document it is returned as well.
// An unresolved probe yields a MountedStore with a nil Mount and store.Noop.
func (s *Store) owner(ctx context.Context, c store.Collection, id, origin string, policy Ambiguity) (MountedStore, *store.Document, error) {
	if c != store.Nodes {
		return s.root, nil, nil
	}

	path := origin
	if path == "" {
		key, err := store.ParseKey(id)
		if err != nil {
			return MountedStore{}, nil, err
		}
		path, _ = key.Path()
	}
	if path != "" {
		m := s.provider.MountByPath(path)
		return MountedStore{Mount: m, Store: s.byMount[m]}, nil, nil
	}

	if policy == FailFast {
		return MountedStore{}, nil, fmt.Errorf("%w: key %s has no path and no originating path was given", ErrAmbiguousOwner, id)
	}

	for _, ms := range s.mounted {
		doc, err := ms.Store.Find(ctx, c, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return MountedStore{}, nil, fmt.Errorf("probe mount %s: %w", ms.Mount.Name(), err)
		}
		return ms, doc, nil
	}
	return MountedStore{Store: store.Noop}, nil, nil
}

// writeTarget resolves the store for a write and reports writes that land
// on a read-only mount. Such writes still go through.
func (s *Store) writeTarget(ctx context.Context, c store.Collection, id, origin string, policy Ambiguity) (MountedStore, error) {
	ms, _, err := s.owner(ctx, c, id, origin, policy)
	if err != nil {
		return MountedStore{}, err
	}
	if ms.Mount == nil {
		return ms, nil
	}
	if ms.Mount.IsReadOnly() {
		s.logger.Error("detected write to a read-only mount",
			"mount", ms.Mount.Name(),
			"collection", c,
			"id", id,
		)
	} else {
		s.logger.Debug("routing write", "mount", ms.Mount.Name(), "collection", c, "id", id)
	}
	return ms, nil
}

// Find returns the document from whichever store owns it. Ids without a path
// are looked up in every store; a document no store has is ErrNotFound.
func (s *Store) Find(ctx context.Context, c store.Collection, id string) (*store.Document, error) {
	ms, doc, err := s.owner(ctx, c, id, "", ProbeAll)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}
	return ms.Store.Find(ctx, c, id)
}

// FindMaxAge is Find with a cache age bound.
func (s *Store) FindMaxAge(ctx context.Context, c store.Collection, id string, maxAge time.Duration) (*store.Document, error) {
	ms, doc, err := s.owner(ctx, c, id, "", ProbeAll)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}
	return ms.Store.FindMaxAge(ctx, c, id, maxAge)
}

// Query runs the range query on the store owning fromID and on every mount
// placed between the bounds, and merges the results in id order. A range
// that leaves the subtree of a mount also reaches the default store and the
// owner of toID. Documents are kept only by the store that owns their path.
func (s *Store) Query(ctx context.Context, c store.Collection, fromID, toID string, limit int) ([]*store.Document, error) {
	return s.query(ctx, c, fromID, toID, limit, func(ctx context.Context, ds store.DocumentStore) ([]*store.Document, error) {
		return ds.Query(ctx, c, fromID, toID, limit)
	})
}

// QueryIndexed is Query restricted to documents whose indexedProperty is at
// least startValue.
func (s *Store) QueryIndexed(ctx context.Context, c store.Collection, fromID, toID, indexedProperty string, startValue int64, limit int) ([]*store.Document, error) {
	return s.query(ctx, c, fromID, toID, limit, func(ctx context.Context, ds store.DocumentStore) ([]*store.Document, error) {
		return ds.QueryIndexed(ctx, c, fromID, toID, indexedProperty, startValue, limit)
	})
}

type queryFunc func(ctx context.Context, ds store.DocumentStore) ([]*store.Document, error)

func (s *Store) query(ctx context.Context, c store.Collection, fromID, toID string, limit int, run queryFunc) ([]*store.Document, error) {
	if c != store.Nodes {
		return run(ctx, s.root.Store)
	}

	fromPath, err := store.BoundPath(fromID)
	if err != nil {
		return nil, err
	}
	toPath, err := store.BoundPath(toID)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(fromPath, "/") {
		return nil, fmt.Errorf("%w: query bound %s has no path", ErrAmbiguousOwner, fromID)
	}

	var contributing []MountedStore
	add := func(m *mount.Mount) {
		for _, ms := range contributing {
			if ms.Mount == m {
				return
			}
		}
		contributing = append(contributing, MountedStore{Mount: m, Store: s.byMount[m]})
	}

	owner := s.provider.MountByPath(fromPath)
	add(owner)
	for _, m := range s.provider.MountsContainedBetween(fromPath, toPath) {
		add(m)
	}
	if !owner.IsDefault() && !confined(owner, fromPath, toPath) {
		add(s.provider.MountByPath(toPath))
		add(s.provider.DefaultMount())
	}
	if len(contributing) == 1 {
		ms := contributing[0]
		docs, err := run(ctx, ms.Store)
		if err != nil {
			return nil, err
		}
		return ownedBy(ms.Mount, docs), nil
	}

	results := make([][]*store.Document, len(contributing))
	g, gctx := errgroup.WithContext(ctx)
	for i, ms := range contributing {
		g.Go(func() error {
			docs, err := run(gctx, ms.Store)
			if err != nil {
				return fmt.Errorf("query mount %s: %w", ms.Mount.Name(), err)
			}
			results[i] = ownedBy(ms.Mount, docs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge(results, limit), nil
}

// confined reports whether the range from..to stays inside the subtree of
// one of m's paths. Paths of a subtree sort before the path followed by "0".
func confined(m *mount.Mount, from, to string) bool {
	for _, p := range m.Paths() {
		if (from == p || strings.HasPrefix(from, p+"/")) && to <= p+"0" {
			return true
		}
	}
	return false
}

// ownedBy drops documents whose path belongs to another mount. Documents
// without a path cannot be placed and are kept.
func ownedBy(m *mount.Mount, docs []*store.Document) []*store.Document {
	owned := make([]*store.Document, 0, len(docs))
	for _, doc := range docs {
		key, err := store.ParseKey(doc.ID)
		if err != nil {
			continue
		}
		if path, ok := key.Path(); ok && !m.IsMounted(path) {
			continue
		}
		owned = append(owned, doc)
	}
	return owned
}

// merge combines per-store results into one id-ordered list of at most
// limit documents. limit <= 0 means no limit.
func merge(results [][]*store.Document, limit int) []*store.Document {
	seen := map[string]bool{}
	merged := []*store.Document{}
	for _, docs := range results {
		for _, doc := range docs {
			if seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			merged = append(merged, doc)
		}
	}
	slices.SortStableFunc(merged, func(a, b *store.Document) int { return strings.Compare(a.ID, b.ID) })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// Remove deletes the document from its owning store. Documents no store has
// are ignored.
func (s *Store) Remove(ctx context.Context, c store.Collection, id string) error {
	ms, err := s.writeTarget(ctx, c, id, "", ProbeAll)
	if err != nil {
		return err
	}
	if ms.Mount == nil {
		return nil
	}
	return ms.Store.Remove(ctx, c, id)
}

// RemoveAll deletes documents, batched per owning store. A failing store
// does not stop removal from the others.
func (s *Store) RemoveAll(ctx context.Context, c store.Collection, ids []string) error {
	groups := newGroups[string]()
	for _, id := range ids {
		ms, err := s.writeTarget(ctx, c, id, "", ProbeAll)
		if err != nil {
			return err
		}
		if ms.Mount != nil {
			groups.add(ms, id)
		}
	}

	var result *multierror.Error
	for _, g := range groups.list {
		if err := g.ms.Store.RemoveAll(ctx, c, g.items); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove from mount %s: %w", g.ms.Mount.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// RemoveIf partitions the conditional removals by owning store and returns
// the total number of documents removed.
func (s *Store) RemoveIf(ctx context.Context, c store.Collection, toRemove map[string]store.Conditions) (int, error) {
	type partition struct {
		ms    MountedStore
		items map[string]store.Conditions
	}
	var partitions []*partition
	byMount := map[*mount.Mount]*partition{}

	for _, id := range slices.Sorted(maps.Keys(toRemove)) {
		ms, err := s.writeTarget(ctx, c, id, "", ProbeAll)
		if err != nil {
			return 0, err
		}
		if ms.Mount == nil {
			continue
		}
		p, ok := byMount[ms.Mount]
		if !ok {
			p = &partition{ms: ms, items: map[string]store.Conditions{}}
			byMount[ms.Mount] = p
			partitions = append(partitions, p)
		}
		p.items[id] = toRemove[id]
	}

	removed := 0
	var result *multierror.Error
	for _, p := range partitions {
		n, err := p.ms.Store.RemoveIf(ctx, c, p.items)
		removed += n
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("remove from mount %s: %w", p.ms.Mount.Name(), err))
		}
	}
	return removed, result.ErrorOrNil()
}

// Create creates the documents in their owning stores. Documents without a
// path in their id are placed by their OriginPath. It returns true only if
// every store created its share; shares already created are not rolled back.
func (s *Store) Create(ctx context.Context, c store.Collection, ops []*store.UpdateOp) (bool, error) {
	if len(ops) == 0 {
		return false, nil
	}

	groups := newGroups[*store.UpdateOp]()
	for _, op := range ops {
		ms, err := s.writeTarget(ctx, c, op.ID, op.OriginPath, FailFast)
		if err != nil {
			return false, err
		}
		groups.add(ms, op)
	}

	created := true
	for _, g := range groups.list {
		ok, err := g.ms.Store.Create(ctx, c, g.items)
		if err != nil {
			return false, fmt.Errorf("create in mount %s: %w", g.ms.Mount.Name(), err)
		}
		created = created && ok
	}
	return created, nil
}

// Update applies op to each document in its owning store, one dispatch per
// id. op.OriginPath places only the ids that carry no path. Ids no store has
// fail with store.ErrNoOwner.
func (s *Store) Update(ctx context.Context, c store.Collection, ids []string, op *store.UpdateOp) error {
	for _, id := range ids {
		origin := op.OriginPath
		if key, err := store.ParseKey(id); err == nil {
			if _, ok := key.Path(); ok {
				origin = ""
			}
		}
		ms, err := s.writeTarget(ctx, c, id, origin, ProbeAll)
		if err != nil {
			return err
		}
		if err := ms.Store.Update(ctx, c, []string{id}, op); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
	}
	return nil
}

// CreateOrUpdate applies op in the owning store of op.ID (or op.OriginPath).
func (s *Store) CreateOrUpdate(ctx context.Context, c store.Collection, op *store.UpdateOp) (*store.Document, error) {
	ms, err := s.writeTarget(ctx, c, op.ID, op.OriginPath, FailFast)
	if err != nil {
		return nil, err
	}
	return ms.Store.CreateOrUpdate(ctx, c, op)
}

// FindAndUpdate applies op to an existing document wherever it lives.
func (s *Store) FindAndUpdate(ctx context.Context, c store.Collection, op *store.UpdateOp) (*store.Document, error) {
	ms, err := s.writeTarget(ctx, c, op.ID, op.OriginPath, ProbeAll)
	if err != nil {
		return nil, err
	}
	return ms.Store.FindAndUpdate(ctx, c, op)
}

// InvalidateCache invalidates the caches of every mounted store.
func (s *Store) InvalidateCache(ctx context.Context) error {
	return s.fanOut("invalidate cache", func(ds store.DocumentStore) error {
		return ds.InvalidateCache(ctx)
	})
}

// InvalidateCacheKeys invalidates ids in their owning stores. Ids without a
// path are invalidated everywhere.
func (s *Store) InvalidateCacheKeys(ctx context.Context, c store.Collection, ids []string) error {
	if c != store.Nodes {
		return s.root.Store.InvalidateCacheKeys(ctx, c, ids)
	}

	groups := newGroups[string]()
	var unplaced []string
	for _, id := range ids {
		key, err := store.ParseKey(id)
		path, ok := key.Path()
		if err != nil || !ok {
			unplaced = append(unplaced, id)
			continue
		}
		m := s.provider.MountByPath(path)
		groups.add(MountedStore{Mount: m, Store: s.byMount[m]}, id)
	}

	var result *multierror.Error
	for _, g := range groups.list {
		if err := g.ms.Store.InvalidateCacheKeys(ctx, c, g.items); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if len(unplaced) > 0 {
		err := s.fanOut("invalidate cache keys", func(ds store.DocumentStore) error {
			return ds.InvalidateCacheKeys(ctx, c, unplaced)
		})
		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Dispose disposes every mounted store.
func (s *Store) Dispose() error {
	return s.fanOut("dispose", func(ds store.DocumentStore) error {
		return ds.Dispose()
	})
}

// SetReadWriteMode sets the mode of every mounted store.
func (s *Store) SetReadWriteMode(mode string) error {
	return s.fanOut("set read-write mode", func(ds store.DocumentStore) error {
		return ds.SetReadWriteMode(mode)
	})
}

// Metadata returns the root store's metadata followed by each mount's,
// prefixed with "<mount>.".
func (s *Store) Metadata() map[string]string {
	meta := maps.Clone(s.root.Store.Metadata())
	if meta == nil {
		meta = map[string]string{}
	}
	for _, ms := range s.mounted[1:] {
		for k, v := range ms.Store.Metadata() {
			meta[ms.Mount.Name()+"."+k] = v
		}
	}
	return meta
}

// fanOut calls fn on every mounted store concurrently. Failures are logged
// and collected; they never stop the other calls.
func (s *Store) fanOut(op string, fn func(store.DocumentStore) error) error {
	errs := make(chan error, len(s.mounted))
	var wg sync.WaitGroup

	for _, ms := range s.mounted {
		wg.Add(1)
		go func(ms MountedStore) {
			defer wg.Done()
			if err := fn(ms.Store); err != nil {
				s.logger.Warn("mounted store failed",
					"op", op,
					"mount", ms.Mount.Name(),
					"error", err,
				)
				errs <- fmt.Errorf("%s on mount %s: %w", op, ms.Mount.Name(), err)
			}
		}(ms)
	}

	wg.Wait()
	close(errs)

	var result *multierror.Error
	for err := range errs {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// groups collects items per mounted store in first-seen order.
type groups[T any] struct {
	list    []*group[T]
	byStore map[*mount.Mount]*group[T]
}

type group[T any] struct {
	ms    MountedStore
	items []T
}

func newGroups[T any]() *groups[T] {
	return &groups[T]{byStore: map[*mount.Mount]*group[T]{}}
}

func (g *groups[T]) add(ms MountedStore, item T) {
	grp, ok := g.byStore[ms.Mount]
	if !ok {
		grp = &group[T]{ms: ms}
		g.byStore[ms.Mount] = grp
		g.list = append(g.list, grp)
	}
	grp.items = append(grp.items, item)
}
