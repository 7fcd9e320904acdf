package state

import "partcraft"

// Wrapper decorates a StepState with metadata: the monotonically
// increasing serial assigned when it entered the database, and whether it
// was marked as recently updated by an outdated-step resolution. Wrappers
// are immutable; "updating" one means producing a new wrapper with a
// fresh serial and replacing the DB entry.
type Wrapper struct {
	State       StepState
	Serial      uint64
	StepUpdated bool
}

// IsNewerThan reports whether w was installed into the database after
// other.
func (w *Wrapper) IsNewerThan(other *Wrapper) bool {
	return w.Serial > other.Serial
}

type key struct {
	part string
	step partcraft.Step
}

// DB is a dictionary-backed database of wrapped states, keyed by
// (part name, step). Serial numbers are assigned from a single
// monotonically increasing counter owned by the DB.
type DB struct {
	entries map[key]*Wrapper
	serial  uint64
}

// NewDB constructs an empty state database.
func NewDB() *DB {
	return &DB{entries: map[key]*Wrapper{}}
}

// Wrap assigns a fresh serial to state and returns the new wrapper. It
// does not install the wrapper into the database; call Set to do that.
func (db *DB) Wrap(s StepState, stepUpdated bool) *Wrapper {
	db.serial++
	return &Wrapper{State: s, Serial: db.serial, StepUpdated: stepUpdated}
}

// Set installs (or, if w is nil, removes) the state for (partName, step).
func (db *DB) Set(partName string, step partcraft.Step, w *Wrapper) {
	if w == nil {
		db.Remove(partName, step)
		return
	}
	db.entries[key{partName, step}] = w
}

// Get retrieves the wrapped state for (partName, step), or nil if absent.
func (db *DB) Get(partName string, step partcraft.Step) *Wrapper {
	return db.entries[key{partName, step}]
}

// Test reports whether a state is defined for (partName, step).
func (db *DB) Test(partName string, step partcraft.Step) bool {
	return db.Get(partName, step) != nil
}

// Remove deletes the state for (partName, step), if any.
func (db *DB) Remove(partName string, step partcraft.Step) {
	delete(db.entries, key{partName, step})
}

// Rewrap rebinds the existing state for (partName, step) to a new
// wrapper with a fresh serial, marking it as recently touched. It is a
// no-op if no state is defined.
func (db *DB) Rewrap(partName string, step partcraft.Step, stepUpdated bool) {
	w := db.Get(partName, step)
	if w == nil {
		return
	}
	db.Set(partName, step, db.Wrap(w.State, stepUpdated))
}

// IsStepUpdated reports whether (partName, step)'s current wrapper was
// marked step_updated.
func (db *DB) IsStepUpdated(partName string, step partcraft.Step) bool {
	w := db.Get(partName, step)
	return w != nil && w.StepUpdated
}
