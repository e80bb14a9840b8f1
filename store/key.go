package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Path length limits above which a document id is stored in hashed form.
// A path is hashed once it is at least PathShort bytes long and its parent
// is at least PathLong bytes long.
const (
	PathShort = 165
	PathLong  = 350
)

// Key is a document identifier of the form "<depth>:<path>", or, for long
// paths, "<depth>:h<sha256 of the parent>/<name>".
//
// Keys are values: they are built per operation and never mutated.
type Key struct {
	value   string
	path    string
	hasPath bool
}

// KeyFromPath encodes an absolute path into its document key. Paths above the
// long path thresholds produce a hashed value; the key still remembers the
// path it was built from, but ParseKey on that value cannot recover it.
func KeyFromPath(path string) Key {
	depth := PathDepth(path)
	if isLongPath(path) {
		parent, name := splitPath(path)
		sum := sha256.Sum256([]byte(parent))
		return Key{value: fmt.Sprintf("%d:h%s/%s", depth, hex.EncodeToString(sum[:]), name), path: path, hasPath: true}
	}
	return Key{value: fmt.Sprintf("%d:%s", depth, path), path: path, hasPath: true}
}

// ParseKey parses a raw document id. Hashed ids and split document ids parse
// without a path.
func ParseKey(raw string) (Key, error) {
	colon := strings.IndexByte(raw, ':')
	if colon <= 0 || colon == len(raw)-1 {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	if _, err := strconv.Atoi(raw[:colon]); err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	switch raw[colon+1] {
	case 'h', 'p':
		return Key{value: raw}, nil
	case '/':
		return Key{value: raw, path: raw[colon+1:], hasPath: true}, nil
	}
	return Key{}, fmt.Errorf("%w: %q", ErrMalformedKey, raw)
}

// BoundPath strips the depth prefix of a range bound. Upper bounds such as
// "2:/a0" are not document ids, so the remainder is returned verbatim.
func BoundPath(raw string) (string, error) {
	colon := strings.IndexByte(raw, ':')
	if colon <= 0 {
		return "", fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	if _, err := strconv.Atoi(raw[:colon]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedKey, raw)
	}
	return raw[colon+1:], nil
}

// MustParseKey is like ParseKey but panics on malformed ids.
func MustParseKey(raw string) Key {
	k, err := ParseKey(raw)
	if err != nil {
		panic(err)
	}
	return k
}

// SplitKey returns the id of a split fragment ("previous document") of the
// document at path. The id carries no path, so writes for it must name the
// originating path explicitly.
func SplitKey(path, revision string) string {
	depth := PathDepth(path) + 2
	if path == "/" {
		return fmt.Sprintf("%d:p/%s", depth, revision)
	}
	return fmt.Sprintf("%d:p%s/%s", depth, path, revision)
}

// Value returns the raw id.
func (k Key) Value() string { return k.value }

// Path returns the decoded path and whether it is present.
func (k Key) Path() (string, bool) { return k.path, k.hasPath }

// IsHashed reports whether the key is a hashed long path id.
func (k Key) IsHashed() bool {
	colon := strings.IndexByte(k.value, ':')
	return colon >= 0 && colon+1 < len(k.value) && k.value[colon+1] == 'h'
}

func (k Key) String() string { return k.value }

// ChildrenRange returns the exclusive id bounds that enclose the direct
// children of parent.
func ChildrenRange(parent string) (from, to string) {
	depth := PathDepth(parent) + 1
	prefix := parent
	if parent != "/" {
		prefix += "/"
	}
	from = fmt.Sprintf("%d:%s", depth, prefix)
	to = fmt.Sprintf("%d:%s0", depth, strings.TrimSuffix(prefix, "/"))
	return from, to
}

// PathDepth returns the number of path elements; the root has depth zero.
func PathDepth(path string) int {
	if path == "/" || path == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(path, "/"), "/")
}

func isLongPath(path string) bool {
	if len(path) < PathShort {
		return false
	}
	parent, _ := splitPath(path)
	return len(parent) >= PathLong
}

func splitPath(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}
