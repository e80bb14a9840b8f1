// Package check verifies that mounted stores can be combined without
// breaking repository-wide invariants.
//
// A check runs in two phases. NewContext reads the unique index
// definitions from the default store. Check is then called once per mounted
// store; it registers the mount's index contributions and compares every
// pair of contributing mounts that has not been compared yet. Findings are
// collected in an ErrorHolder and never change the stores.
package check

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/jacentio/docmux/index"
	"github.com/jacentio/docmux/mount"
	"github.com/jacentio/docmux/multiplex"
)

// UniqueIndexChecker reports values of unique indexes that are present in
// more than one mount.
type UniqueIndexChecker struct {
	logger *slog.Logger
}

// NewUniqueIndexChecker creates a checker. A nil logger uses slog.Default().
func NewUniqueIndexChecker(logger *slog.Logger) *UniqueIndexChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &UniqueIndexChecker{logger: logger}
}

// Context carries the state of one checking pass.
type Context struct {
	provider     *mount.Provider
	stores       map[string]multiplex.MountedStore
	combinations map[string]*combination
}

// combination groups the contributions of all mounts to one logical index.
type combination struct {
	name     string
	mounts   []*mount.Mount
	checked  map[pair]struct{}
	reported map[string]struct{}
}

// pair is an unordered pair of mount names, smaller name first.
type pair struct {
	a, b string
}

func newPair(x, y string) pair {
	if y < x {
		x, y = y, x
	}
	return pair{a: x, b: y}
}

// Provider returns the mount table the context was built for.
func (c *Context) Provider() *mount.Provider { return c.provider }

// Indexes returns the names of the unique indexes being checked.
func (c *Context) Indexes() []string {
	names := make([]string, 0, len(c.combinations))
	for name := range c.combinations {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Contributors returns the names of the mounts registered for an index.
func (c *Context) Contributors(name string) []string {
	comb, ok := c.combinations[name]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(comb.mounts))
	for _, m := range comb.mounts {
		names = append(names, m.Name())
	}
	return names
}

func (c *Context) track(ms multiplex.MountedStore) {
	c.stores[ms.Mount.Name()] = ms
}

func (c *Context) add(name string, m *mount.Mount) {
	comb, ok := c.combinations[name]
	if !ok {
		comb = &combination{
			name:     name,
			checked:  make(map[pair]struct{}),
			reported: make(map[string]struct{}),
		}
		c.combinations[name] = comb
	}
	for _, existing := range comb.mounts {
		if existing.Name() == m.Name() {
			return
		}
	}
	comb.mounts = append(comb.mounts, m)
}

// NewContext reads the unique index definitions from the router's default
// store and registers the default mount for each of them.
func (u *UniqueIndexChecker) NewContext(ctx context.Context, router *multiplex.Store) (*Context, error) {
	defs, err := index.Definitions(ctx, router.Root())
	if err != nil {
		return nil, err
	}

	provider := router.Provider()
	cctx := &Context{
		provider:     provider,
		stores:       make(map[string]multiplex.MountedStore),
		combinations: make(map[string]*combination),
	}

	def := multiplex.MountedStore{Mount: provider.DefaultMount(), Store: router.Root()}
	for _, d := range defs {
		if !d.Unique {
			continue
		}
		cctx.add(d.Name, def.Mount)
		cctx.track(def)
	}

	u.logger.Debug("unique indexes loaded", "count", len(cctx.combinations))
	return cctx, nil
}

// Check registers the indexes ms contributes to and compares every pair of
// mounts not compared before.
func (u *UniqueIndexChecker) Check(ctx context.Context, ms multiplex.MountedStore, holder *ErrorHolder, cctx *Context) error {
	cctx.track(ms)

	for _, name := range cctx.Indexes() {
		ok, err := index.HasStorageNode(ctx, ms.Store, name, ms.Mount)
		if err != nil {
			return fmt.Errorf("index %s in mount %s: %w", name, ms.Mount.Name(), err)
		}
		if ok {
			cctx.add(name, ms.Mount)
		}
	}

	return u.RunChecks(ctx, cctx, holder)
}

// RunChecks compares every pending pair of contributing mounts.
func (u *UniqueIndexChecker) RunChecks(ctx context.Context, cctx *Context, holder *ErrorHolder) error {
	for _, name := range cctx.Indexes() {
		comb := cctx.combinations[name]
		for i, a := range comb.mounts {
			for _, b := range comb.mounts[i+1:] {
				p := newPair(a.Name(), b.Name())
				if _, done := comb.checked[p]; done {
					continue
				}
				if err := u.compare(ctx, cctx, comb, a, b, holder); err != nil {
					return err
				}
				comb.checked[p] = struct{}{}
			}
		}
	}
	return nil
}

// CheckAll runs a full pass over every mounted store of router.
func (u *UniqueIndexChecker) CheckAll(ctx context.Context, router *multiplex.Store, holder *ErrorHolder) error {
	cctx, err := u.NewContext(ctx, router)
	if err != nil {
		return err
	}
	for _, ms := range router.MountedStores() {
		if err := u.Check(ctx, ms, holder, cctx); err != nil {
			return err
		}
	}
	return nil
}

// compare looks up every value of a's entries in b's storage node.
func (u *UniqueIndexChecker) compare(ctx context.Context, cctx *Context, comb *combination, a, b *mount.Mount, holder *ErrorHolder) error {
	storeA, okA := cctx.stores[a.Name()]
	storeB, okB := cctx.stores[b.Name()]
	if !okA || !okB {
		return fmt.Errorf("index %s: mount %s or %s has no tracked store", comb.name, a.Name(), b.Name())
	}

	u.logger.Debug("comparing index entries", "index", comb.name, "mount", a.Name(), "other", b.Name())

	entries, err := index.Entries(ctx, storeA.Store, comb.name, a)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !a.IsMounted(e.Path) {
			continue
		}
		hit, ok, err := index.Lookup(ctx, storeB.Store, comb.name, b, e.Value)
		if err != nil {
			return err
		}
		if !ok || !b.IsMounted(hit.Path) {
			continue
		}
		if _, seen := comb.reported[e.Value]; seen {
			continue
		}
		comb.reported[e.Value] = struct{}{}

		r := Report{
			Mount:      a.Name(),
			Path:       e.Path,
			OtherMount: b.Name(),
			OtherPath:  hit.Path,
			Value:      e.Value,
			Reason:     DuplicateEntry,
		}
		u.logger.Warn("unique index collision", "index", comb.name, "error", r.Error())
		holder.Report(r)
	}
	return nil
}
