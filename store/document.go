package store

import (
	"fmt"
	"maps"
)

// Collection names a family of documents within a store.
type Collection string

// Collections known to the router. Only Nodes is partitioned across mounts.
const (
	Nodes    Collection = "nodes"
	Clusters Collection = "clusters"
	Settings Collection = "settings"
	Journal  Collection = "journal"
)

// Document is a stored document: an id plus an opaque property map.
type Document struct {
	// ID is the canonical document id (see Key).
	ID string

	// ModCount is incremented on every successful write.
	ModCount int64

	// Props holds the document properties.
	Props map[string]any
}

// Get returns a property value.
func (d *Document) Get(name string) (any, bool) {
	if d == nil || d.Props == nil {
		return nil, false
	}
	v, ok := d.Props[name]
	return v, ok
}

// Copy returns a shallow copy with its own property map.
func (d *Document) Copy() *Document {
	if d == nil {
		return nil
	}
	return &Document{ID: d.ID, ModCount: d.ModCount, Props: maps.Clone(d.Props)}
}

// ChangeType is the kind of change applied to a property.
type ChangeType int

const (
	// Set replaces the property value.
	Set ChangeType = iota
	// Max keeps the larger of the current and the new numeric value.
	Max
	// Increment adds the numeric value to the current one.
	Increment
	// Unset removes the property.
	Unset
)

// Change is one property change of an UpdateOp.
type Change struct {
	Type  ChangeType
	Value any
}

// ConditionType is the kind of check a Condition performs.
type ConditionType int

const (
	// Equals matches when the property equals the value.
	Equals ConditionType = iota
	// NotEquals matches when the property is absent or differs from the value.
	NotEquals
	// Exists matches when the property is present.
	Exists
	// NotExists matches when the property is absent.
	NotExists
)

// Condition is a precondition on one property.
type Condition struct {
	Type  ConditionType
	Value any
}

// Conditions maps property names to their preconditions.
type Conditions map[string]Condition

// UpdateOp describes a write to a single document.
type UpdateOp struct {
	// ID is the target document id.
	ID string

	// IsNew marks an op that creates the document.
	IsNew bool

	// OriginPath is the path of the document this one structurally belongs
	// to. It must be set for documents whose id carries no path (split
	// fragments) so the owning store can be resolved without guessing.
	OriginPath string

	// Changes are applied in no particular order.
	Changes map[string]Change

	// Conditions must all hold for the op to apply.
	Conditions Conditions
}

// NewUpdateOp creates an UpdateOp for id.
func NewUpdateOp(id string, isNew bool) *UpdateOp {
	return &UpdateOp{ID: id, IsNew: isNew, Changes: map[string]Change{}}
}

// Set records a Set change and returns the op for chaining.
func (op *UpdateOp) Set(name string, value any) *UpdateOp {
	op.change(name, Change{Type: Set, Value: value})
	return op
}

// Max records a Max change.
func (op *UpdateOp) Max(name string, value any) *UpdateOp {
	op.change(name, Change{Type: Max, Value: value})
	return op
}

// Increment records an Increment change.
func (op *UpdateOp) Increment(name string, delta int64) *UpdateOp {
	op.change(name, Change{Type: Increment, Value: delta})
	return op
}

// Unset records the removal of a property.
func (op *UpdateOp) Unset(name string) *UpdateOp {
	op.change(name, Change{Type: Unset})
	return op
}

// Equals adds an equality condition.
func (op *UpdateOp) Equals(name string, value any) *UpdateOp {
	if op.Conditions == nil {
		op.Conditions = Conditions{}
	}
	op.Conditions[name] = Condition{Type: Equals, Value: value}
	return op
}

// WithOrigin sets the originating path and returns the op.
func (op *UpdateOp) WithOrigin(path string) *UpdateOp {
	op.OriginPath = path
	return op
}

func (op *UpdateOp) change(name string, c Change) {
	if op.Changes == nil {
		op.Changes = map[string]Change{}
	}
	op.Changes[name] = c
}

// ApplyUpdate applies op to doc and returns the updated copy. A nil doc is
// treated as a new, empty document with the op's id.
func ApplyUpdate(doc *Document, op *UpdateOp) (*Document, error) {
	var next *Document
	if doc == nil {
		next = &Document{ID: op.ID, Props: map[string]any{}}
	} else {
		next = doc.Copy()
		if next.Props == nil {
			next.Props = map[string]any{}
		}
	}

	for name, c := range op.Changes {
		switch c.Type {
		case Set:
			next.Props[name] = c.Value
		case Unset:
			delete(next.Props, name)
		case Max:
			cur, ok := next.Props[name]
			if !ok || CompareValues(c.Value, cur) > 0 {
				next.Props[name] = c.Value
			}
		case Increment:
			delta, ok := toFloat(c.Value)
			if !ok {
				return nil, fmt.Errorf("increment %q: non-numeric delta %v", name, c.Value)
			}
			cur, _ := toFloat(next.Props[name])
			next.Props[name] = normalizeNumber(cur + delta)
		default:
			return nil, fmt.Errorf("unknown change type %d for %q", c.Type, name)
		}
	}
	next.ModCount++
	return next, nil
}

// Matches reports whether every condition holds on doc. A nil doc has no
// properties.
func (cs Conditions) Matches(doc *Document) bool {
	for name, c := range cs {
		v, ok := doc.Get(name)
		switch c.Type {
		case Equals:
			if !ok || CompareValues(v, c.Value) != 0 {
				return false
			}
		case NotEquals:
			if ok && CompareValues(v, c.Value) == 0 {
				return false
			}
		case Exists:
			if !ok {
				return false
			}
		case NotExists:
			if ok {
				return false
			}
		}
	}
	return true
}

// CompareValues orders two property values. Numbers compare numerically
// regardless of their Go type; everything else compares by its string form.
func CompareValues(a, b any) int {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func normalizeNumber(f float64) any {
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}
