package triage

import "context"

// Stage is one unit of the fixed pipeline. A stage reads the shared state and
// returns a partial update covering only the fields it owns; it never mutates
// the state directly. A returned error marks the whole stage failed: none of
// its owned fields are merged and one tagged entry lands in State.Errors.
type Stage interface {
	Name() string
	Execute(ctx context.Context, st *State) (*Update, error)
}
