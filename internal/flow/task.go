package flow

// Task is a unit of computation: a pure function over ordered dependency
// values that produces one value per key in Keys, in the same order.
//
// A task with more than one key is a "joint" task: it produces several
// co-defined entities at once from a single computation.
type Task struct {
	// Keys is one or more task keys this task produces.
	Keys []TaskKey
	// DepKeys is the ordered list of task keys this task consumes.
	DepKeys []TaskKey
	// Compute runs the task's pure computation over dependency values,
	// returning one value per Keys entry, in the same order.
	Compute func(depValues []any) ([]any, error)
	// IsSimpleLookup hints that this task is a constant/definition lookup;
	// consulted only for logging (it suppresses the "Computing ..." line and
	// logs "Accessed ... from definition" instead of "Computed ...") and
	// copied onto exported DAG nodes.
	IsSimpleLookup bool
}

// KeyForEntityName returns the one key in Keys matching the given entity
// name. Panics if none matches, since that indicates a provider built a
// Task with a name not among its declared outputs -- a programmer error.
func (t Task) KeyForEntityName(name EntityName) TaskKey {
	for _, k := range t.Keys {
		if k.EntityName == name {
			return k
		}
	}
	panic("flow: task has no key for entity name " + string(name))
}

// HasDepKey reports whether dep is among this task's declared dependency
// keys -- used by the DAG export adapter to decide whether an edge is real
// or merely an artifact of shared TaskState parentage.
func (t Task) HasDepKey(dep TaskKey) bool {
	want := dep.comparable()
	for _, d := range t.DepKeys {
		if d.comparable() == want {
			return true
		}
	}
	return false
}

// TaskState is the mutable DAG node wrapping one Task. Parents and children
// are non-owning references into the Graph's arena of states; only the
// Graph constructs and wires these.
type TaskState struct {
	Task Task

	Parents  []*TaskState
	Children []*TaskState

	// ResultsByName maps each produced entity name to its Result.
	// Presence (non-nil) is equivalent to "complete".
	ResultsByName map[EntityName]Result
}

// IsComplete reports whether this state has been evaluated.
func (s *TaskState) IsComplete() bool {
	return s.ResultsByName != nil
}

// IsBlocked reports whether any parent of this state is not yet complete.
func (s *TaskState) IsBlocked() bool {
	for _, p := range s.Parents {
		if !p.IsComplete() {
			return true
		}
	}
	return false
}
