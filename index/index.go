// Package index maintains property indexes whose entries are split by mount.
//
// Index definitions live in the default mount under /:indexes/<name>. Each
// mount keeps its own entries below a hidden storage node of the definition:
//
//	/:indexes/uuid                         definition (default mount)
//	/:indexes/uuid/:index/<value>          entries for default mount paths
//	/:indexes/uuid/:mount-libs-index/<v>   entries for paths under mount libs
//
// Storage node names carry the mount's path fragment, so the router places
// every entry in the store of the mount that owns the indexed path.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/multiplex"
	"github.com/jacentio/docmux/store"
)

// Root is the path under which index definitions live.
const Root = "/:indexes"

// StorageSuffix names the per-mount storage node of an index.
const StorageSuffix = "index"

// Definition describes a property index.
type Definition struct {
	Name          string
	Unique        bool
	PropertyNames []string
}

// Entry is one indexed value and the path it was indexed for.
type Entry struct {
	Path  string
	Value string
}

// DefinitionPath returns the path of the named index definition.
func DefinitionPath(name string) string {
	return Root + "/" + name
}

// StorageNodePath returns the path of the storage node holding m's entries.
func StorageNodePath(name string, m *mount.Mount) string {
	return DefinitionPath(name) + "/" + mount.StorageNodeName(m, StorageSuffix)
}

// EntryPath returns the path of the entry for value in m's storage node.
func EntryPath(name string, m *mount.Mount, value string) string {
	return StorageNodePath(name, m) + "/" + url.PathEscape(value)
}

// Definitions returns the index definitions stored in ds.
func Definitions(ctx context.Context, ds store.DocumentStore) ([]Definition, error) {
	from, to := store.ChildrenRange(Root)
	docs, err := store.QueryAll(ctx, ds, store.Nodes, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("list index definitions: %w", err)
	}

	defs := make([]Definition, 0, len(docs))
	for _, doc := range docs {
		key, err := store.ParseKey(doc.ID)
		if err != nil {
			continue
		}
		path, _ := key.Path()
		def := Definition{Name: strings.TrimPrefix(path, Root+"/")}
		if v, ok := doc.Get("unique"); ok {
			def.Unique, _ = v.(bool)
		}
		if v, ok := doc.Get("propertyNames"); ok {
			if names, _ := v.(string); names != "" {
				def.PropertyNames = strings.Split(names, ",")
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// HasStorageNode reports whether ds holds m's storage node for the index.
func HasStorageNode(ctx context.Context, ds store.DocumentStore, name string, m *mount.Mount) (bool, error) {
	_, err := ds.Find(ctx, store.Nodes, store.KeyFromPath(StorageNodePath(name, m)).Value())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Entries returns the entries of m's storage node in ds, ordered by value.
func Entries(ctx context.Context, ds store.DocumentStore, name string, m *mount.Mount) ([]Entry, error) {
	from, to := store.ChildrenRange(StorageNodePath(name, m))
	docs, err := store.QueryAll(ctx, ds, store.Nodes, from, to, 0)
	if err != nil {
		return nil, fmt.Errorf("list entries of %s for mount %s: %w", name, m.Name(), err)
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, entryOf(doc))
	}
	return entries, nil
}

// Lookup returns the entry for value in m's storage node in ds.
func Lookup(ctx context.Context, ds store.DocumentStore, name string, m *mount.Mount, value string) (Entry, bool, error) {
	doc, err := ds.Find(ctx, store.Nodes, store.KeyFromPath(EntryPath(name, m, value)).Value())
	if errors.Is(err, store.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entryOf(doc), true, nil
}

func entryOf(doc *store.Document) Entry {
	var e Entry
	if v, ok := doc.Get("entry"); ok {
		e.Path, _ = v.(string)
	}
	if v, ok := doc.Get("value"); ok {
		e.Value, _ = v.(string)
	}
	return e
}

// Writer maintains index definitions and entries through a router.
type Writer struct {
	router *multiplex.Store
	logger *slog.Logger
}

// NewWriter creates a Writer.
func NewWriter(router *multiplex.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{router: router, logger: logger}
}

// Define creates or replaces an index definition.
func (w *Writer) Define(ctx context.Context, def Definition) error {
	if def.Name == "" || strings.ContainsAny(def.Name, "/:") {
		return fmt.Errorf("invalid index name %q", def.Name)
	}
	op := store.NewUpdateOp(store.KeyFromPath(DefinitionPath(def.Name)).Value(), true).
		Set("unique", def.Unique).
		Set("propertyNames", strings.Join(def.PropertyNames, ","))
	if _, err := w.router.CreateOrUpdate(ctx, store.Nodes, op); err != nil {
		return fmt.Errorf("define index %s: %w", def.Name, err)
	}
	return nil
}

// Insert records that path has value. The entry goes to the storage node
// of the mount owning path. A value already indexed for another path in the
// same mount is rejected with store.ErrDuplicateValue; other mounts are not
// consulted (see ExistsInAnyStore).
func (w *Writer) Insert(ctx context.Context, name, value, path string) error {
	m := w.router.Provider().MountByPath(path)

	node := store.NewUpdateOp(store.KeyFromPath(StorageNodePath(name, m)).Value(), true).
		Set("mount", m.Name())
	if _, err := w.router.CreateOrUpdate(ctx, store.Nodes, node); err != nil {
		return fmt.Errorf("index %s storage node for mount %s: %w", name, m.Name(), err)
	}

	entryID := store.KeyFromPath(EntryPath(name, m, value)).Value()
	created, err := w.router.Create(ctx, store.Nodes, []*store.UpdateOp{
		store.NewUpdateOp(entryID, true).Set("entry", path).Set("value", value),
	})
	if err != nil {
		return fmt.Errorf("index %s value %q: %w", name, value, err)
	}
	if created {
		w.logger.Debug("indexed value", "index", name, "mount", m.Name(), "path", path)
		return nil
	}

	existing, err := w.router.Find(ctx, store.Nodes, entryID)
	if err != nil {
		return fmt.Errorf("index %s value %q: %w", name, value, err)
	}
	if e := entryOf(existing); e.Path != path {
		return fmt.Errorf("%w: index %s value %q is taken by %s", store.ErrDuplicateValue, name, value, e.Path)
	}
	return nil
}

// Remove drops the entry for value if it belongs to path.
func (w *Writer) Remove(ctx context.Context, name, value, path string) error {
	m := w.router.Provider().MountByPath(path)
	entryID := store.KeyFromPath(EntryPath(name, m, value)).Value()
	_, err := w.router.RemoveIf(ctx, store.Nodes, map[string]store.Conditions{
		entryID: {"entry": {Type: store.Equals, Value: path}},
	})
	return err
}

// ExistsInAnyStore reports whether value is indexed in the storage node of
// any mount.
func (w *Writer) ExistsInAnyStore(ctx context.Context, name, value string) (bool, error) {
	for _, ms := range w.router.MountedStores() {
		_, ok, err := Lookup(ctx, ms.Store, name, ms.Mount, value)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Query returns the paths indexed for value across all mounts.
func (w *Writer) Query(ctx context.Context, name, value string) ([]string, error) {
	var paths []string
	for _, ms := range w.router.MountedStores() {
		e, ok, err := Lookup(ctx, ms.Store, name, ms.Mount, value)
		if err != nil {
			return nil, err
		}
		if ok && ms.Mount.IsMounted(e.Path) {
			paths = append(paths, e.Path)
		}
	}
	return paths, nil
}
