// Package mount partitions the document path namespace between stores.
//
// A [Mount] owns a set of path prefixes. Exactly one mount is the default
// mount and owns every path no other mount claims. A [Provider] answers
// ownership questions for an immutable set of mounts built with [NewBuilder].
package mount

import "strings"

// DefaultName is the name of the default mount.
const DefaultName = "<default>"

// Mount is a named partition of the path namespace.
type Mount struct {
	name      string
	isDefault bool
	readOnly  bool
	paths     []string

	// others are the non-default mounts of the same provider
	others []*Mount
}

// Name returns the mount name.
func (m *Mount) Name() string { return m.name }

// IsDefault reports whether this is the default mount.
func (m *Mount) IsDefault() bool { return m.isDefault }

// IsReadOnly reports whether writes below this mount are unexpected.
func (m *Mount) IsReadOnly() bool { return m.readOnly }

// Paths returns the path prefixes owned by the mount.
func (m *Mount) Paths() []string {
	return append([]string(nil), m.paths...)
}

// PathFragment returns the name fragment that marks hidden storage nodes
// belonging to this mount, e.g. "mount-libs".
func (m *Mount) PathFragment() string {
	if m.isDefault {
		return ""
	}
	return "mount-" + m.name
}

// IsMounted reports whether the mount owns path. A path is owned when one
// of its segments is a hidden storage node carrying the mount's fragment, or
// otherwise when it equals or lies below one of the mount's prefixes.
//
// The default mount owns every path no other mount owns.
func (m *Mount) IsMounted(path string) bool {
	if m.isDefault {
		for _, other := range m.others {
			if other.IsMounted(path) {
				return false
			}
		}
		return true
	}
	if owner := fragmentOwner(append([]*Mount{m}, m.others...), path); owner != nil {
		return owner == m
	}
	return m.prefixLength(path) > 0
}

// IsUnder reports whether any of the mount's paths lies below path.
func (m *Mount) IsUnder(path string) bool {
	prefix := path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for _, p := range m.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (m *Mount) String() string {
	var b strings.Builder
	b.WriteString(m.name)
	if m.readOnly {
		b.WriteString(" (read-only)")
	}
	if len(m.paths) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(m.paths, ","))
	}
	return b.String()
}

// prefixLength returns the length of the longest owned prefix of path, or 0.
func (m *Mount) prefixLength(path string) int {
	longest := 0
	for _, p := range m.paths {
		if (path == p || strings.HasPrefix(path, p+"/")) && len(p) > longest {
			longest = len(p)
		}
	}
	return longest
}

// fragmentOwner returns the mount whose fragment marks the first hidden
// storage node segment of path, or nil. The longest mount name wins, so
// ":mount-a-b-index" belongs to mount "a-b" and not to mount "a".
func fragmentOwner(mounts []*Mount, path string) *Mount {
	for _, segment := range strings.Split(path, "/") {
		if !strings.HasPrefix(segment, ":mount-") {
			continue
		}
		var owner *Mount
		for _, m := range mounts {
			if m.isDefault || !strings.HasPrefix(segment, ":"+m.PathFragment()+"-") {
				continue
			}
			if owner == nil || len(m.name) > len(owner.name) {
				owner = m
			}
		}
		if owner != nil {
			return owner
		}
	}
	return nil
}

// StorageNodeName returns the name of the hidden node that holds the
// mount's share of a per-mount structure such as an index:
// ":<suffix>" for the default mount, ":mount-<name>-<suffix>" otherwise.
func StorageNodeName(m *Mount, suffix string) string {
	if m.IsDefault() {
		return ":" + suffix
	}
	return ":" + m.PathFragment() + "-" + suffix
}
