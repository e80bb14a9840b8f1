package mount

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNoDefaultMount is returned when a provider has no default mount.
	ErrNoDefaultMount = errors.New("docmux: no default mount")

	// ErrDuplicateMountPath is returned when two mounts claim the same path.
	ErrDuplicateMountPath = errors.New("docmux: path mounted twice")

	// ErrDuplicateMountName is returned when two mounts share a name.
	ErrDuplicateMountName = errors.New("docmux: duplicate mount name")

	// ErrInvalidMountPath is returned for relative paths, trailing slashes
	// and attempts to mount the root.
	ErrInvalidMountPath = errors.New("docmux: invalid mount path")
)

// Provider maps paths to the mounts that own them. It is immutable and safe
// for concurrent use.
type Provider struct {
	defaultMount *Mount
	mounts       []*Mount
	byName       map[string]*Mount
}

// Default is a provider with only the default mount.
var Default = mustBuild(NewBuilder())

// MountByPath returns the mount owning path. Storage node fragments win over
// prefixes; among prefixes the longest match wins.
func (p *Provider) MountByPath(path string) *Mount {
	if m := fragmentOwner(p.mounts, path); m != nil {
		return m
	}
	var (
		owner   = p.defaultMount
		longest = 0
	)
	for _, m := range p.mounts {
		if n := m.prefixLength(path); n > longest {
			owner, longest = m, n
		}
	}
	return owner
}

// MountByName returns the named mount, or nil.
func (p *Provider) MountByName(name string) *Mount {
	return p.byName[name]
}

// DefaultMount returns the default mount.
func (p *Provider) DefaultMount() *Mount {
	return p.defaultMount
}

// NonDefaultMounts returns the explicitly configured mounts in build order.
func (p *Provider) NonDefaultMounts() []*Mount {
	return slices.Clone(p.mounts)
}

// HasNonDefaultMounts reports whether any mount besides the default exists.
func (p *Provider) HasNonDefaultMounts() bool {
	return len(p.mounts) > 0
}

// Mounts returns the default mount followed by the non-default mounts.
func (p *Provider) Mounts() []*Mount {
	return append([]*Mount{p.defaultMount}, p.mounts...)
}

// MountsPlacedUnder returns the non-default mounts with a path below path.
func (p *Provider) MountsPlacedUnder(path string) []*Mount {
	var under []*Mount
	for _, m := range p.mounts {
		if m.IsUnder(path) {
			under = append(under, m)
		}
	}
	return under
}

// MountsContainedBetween returns the non-default mounts with a path strictly
// between from and to in string order.
func (p *Provider) MountsContainedBetween(from, to string) []*Mount {
	var between []*Mount
	for _, m := range p.mounts {
		for _, path := range m.paths {
			if path > from && path < to {
				between = append(between, m)
				break
			}
		}
	}
	return between
}

// Builder assembles a Provider.
type Builder struct {
	mounts []*Mount
}

// NewBuilder creates a Builder. The default mount is always present.
func NewBuilder() *Builder {
	return &Builder{}
}

// Mount adds a read-write mount owning paths.
func (b *Builder) Mount(name string, paths ...string) *Builder {
	b.mounts = append(b.mounts, &Mount{name: name, paths: slices.Clone(paths)})
	return b
}

// ReadOnlyMount adds a read-only mount owning paths.
func (b *Builder) ReadOnlyMount(name string, paths ...string) *Builder {
	b.mounts = append(b.mounts, &Mount{name: name, readOnly: true, paths: slices.Clone(paths)})
	return b
}

// Build validates the configured mounts and returns the Provider.
func (b *Builder) Build() (*Provider, error) {
	names := map[string]*Mount{}
	owners := map[string]string{}

	for _, m := range b.mounts {
		if m.name == "" || m.name == DefaultName || strings.ContainsAny(m.name, "/:") {
			return nil, fmt.Errorf("invalid mount name %q", m.name)
		}
		if _, ok := names[m.name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMountName, m.name)
		}
		names[m.name] = m

		if len(m.paths) == 0 {
			return nil, fmt.Errorf("%w: mount %s has no paths", ErrInvalidMountPath, m.name)
		}
		for _, path := range m.paths {
			if err := validatePath(path); err != nil {
				return nil, fmt.Errorf("mount %s: %w", m.name, err)
			}
			if other, ok := owners[path]; ok {
				return nil, fmt.Errorf("%w: %s (mounts %s and %s)", ErrDuplicateMountPath, path, other, m.name)
			}
			owners[path] = m.name
		}
		slices.Sort(m.paths)
	}
	for _, m := range b.mounts {
		m.others = b.mounts
	}

	def := &Mount{name: DefaultName, isDefault: true, others: b.mounts}
	names[DefaultName] = def
	return &Provider{
		defaultMount: def,
		mounts:       b.mounts,
		byName:       names,
	}, nil
}

func validatePath(path string) error {
	switch {
	case !strings.HasPrefix(path, "/"):
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidMountPath, path)
	case path == "/":
		return fmt.Errorf("%w: the root belongs to the default mount", ErrInvalidMountPath)
	case strings.HasSuffix(path, "/"), strings.Contains(path, "//"):
		return fmt.Errorf("%w: %q is not normalized", ErrInvalidMountPath, path)
	}
	return nil
}

func mustBuild(b *Builder) *Provider {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}
