package flow

import (
	"fmt"
	"sort"
	"strings"
)

// EntityName identifies a declared artifact in the flow. Names beginning
// with the reserved prefix are internal/bootstrap entities.
type EntityName string

const internalPrefix = "core__"

// IsInternal reports whether the name carries the reserved internal prefix.
func (n EntityName) IsInternal() bool {
	return strings.HasPrefix(string(n), internalPrefix)
}

// CaseKeyEntry is one name/value pair of a CaseKey, kept in declaration order.
type CaseKeyEntry struct {
	Name  string
	Value any
}

// CaseKey is an ordered mapping from parameter name to value identifying one
// instance of a parameterized entity. Order is preserved for logging
// (task-string rendering) but equality ignores order.
type CaseKey struct {
	entries []CaseKeyEntry
}

// NewCaseKey builds a CaseKey from entries in the given order.
func NewCaseKey(entries ...CaseKeyEntry) CaseKey {
	cp := make([]CaseKeyEntry, len(entries))
	copy(cp, entries)
	return CaseKey{entries: cp}
}

// EmptyCaseKey is the case key of an unparameterized entity.
var EmptyCaseKey = CaseKey{}

// Entries returns the case key's entries in their original order.
func (k CaseKey) Entries() []CaseKeyEntry {
	return k.entries
}

// Get returns the value bound to name and whether it was present.
func (k CaseKey) Get(name string) (any, bool) {
	for _, e := range k.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Equal reports whether two case keys have identical name->value mappings,
// independent of entry order.
func (k CaseKey) Equal(other CaseKey) bool {
	if len(k.entries) != len(other.entries) {
		return false
	}
	for _, e := range k.entries {
		v, ok := other.Get(e.Name)
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", e.Value) {
			return false
		}
	}
	return true
}

// canonical returns a deterministic, order-independent string encoding used
// for hashing and as a map key (sorted by entry name, original order is only
// cosmetic for logging).
func (k CaseKey) canonical() string {
	sorted := make([]CaseKeyEntry, len(k.entries))
	copy(sorted, k.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	for i, e := range sorted {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		fmt.Fprintf(&b, "%s=%v", e.Name, e.Value)
	}
	return b.String()
}

// comparable returns a value usable as a Go map key, since CaseKey itself
// holds a slice and is not comparable.
func (k CaseKey) comparable() string {
	return k.canonical()
}

// SortKey returns a deterministic, order-independent string suitable for
// sorting case keys (used by the DAG export adapter to assign stable
// task_ix indices to an entity's tasks).
func (k CaseKey) SortKey() string {
	return k.canonical()
}

// String renders the case key's entries in their original iteration order,
// as required for task-string logging: "k1=v1, k2=v2".
func (k CaseKey) String() string {
	parts := make([]string, len(k.entries))
	for i, e := range k.entries {
		parts[i] = fmt.Sprintf("%s=%v", e.Name, e.Value)
	}
	return strings.Join(parts, ", ")
}

// TaskKey is the pair (entity name, case key) uniquely identifying one
// producible artifact.
type TaskKey struct {
	EntityName EntityName
	CaseKey    CaseKey
}

// comparable returns a value usable as a Go map key.
func (k TaskKey) comparable() string {
	return string(k.EntityName) + "\x00" + k.CaseKey.comparable()
}

// String renders "entity_name(k1=v1, k2=v2)", the exact task-string format
// used throughout the logging contract.
func (k TaskKey) String() string {
	return fmt.Sprintf("%s(%s)", k.EntityName, k.CaseKey.String())
}

// KeySpace is the set of case keys over which one entity is defined.
type KeySpace struct {
	CaseKeys []CaseKey
}

// taskKeyTuple identifies a (possibly joint) task by its full, ordered list
// of produced task keys; used as the blocked-set element and as a map key.
type taskKeyTuple string

func tupleOf(keys []TaskKey) taskKeyTuple {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.comparable()
	}
	return taskKeyTuple(strings.Join(parts, "\x00"))
}
