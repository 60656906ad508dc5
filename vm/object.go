package vm

import "sync"

// ObjectStorage is this port's simplified object representation: a
// type pointer plus a flat slice of field values, addressed by index.
// The original VM lays fields out at fixed byte offsets within a single
// native allocation; representing them as a Go slice keeps the GC's
// reachability story simple (every reference an object holds is an
// ordinary Go value the runtime's collector already walks) without
// reproducing unsafe layout computation that has no payoff here, since
// this core does not implement an ABI other code links against.
//
// fieldLock is the per-instance field-access lock spec.md §5 requires
// for reference-mediated field access; direct ldfld/stfld never touch
// it, matching the documented asymmetry.
type ObjectStorage struct {
	Type   *Type
	Fields []Value

	fieldLock sync.Mutex
}

// NewObjectStorage allocates field storage for an instance of t, sized
// to its (possibly inherited) field count.
func NewObjectStorage(t *Type) *ObjectStorage {
	return &ObjectStorage{Type: t, Fields: make([]Value, countFields(t))}
}

// FieldLock returns the lock a reference-mediated field access on this
// instance must hold for the duration of the load or store.
func (s *ObjectStorage) FieldLock() *sync.Mutex { return &s.fieldLock }

func countFields(t *Type) int {
	n := 0
	for cur := t; cur != nil; cur = cur.Supertype {
		n += len(cur.Fields)
	}
	return n
}
