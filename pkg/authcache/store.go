package authcache

import (
	"sync/atomic"
)

// Store owns the current snapshot. Lookups load the pointer once and work
// on that generation; Install swaps the pointer in one atomic step, so a
// concurrent reader sees either the whole old or the whole new grant set.
// Superseded generations are reclaimed by the garbage collector once the
// last in-flight lookup drops its reference; no explicit disposal runs.
type Store struct {
	current atomic.Pointer[Snapshot]
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the live snapshot. Before the first install it returns
// an empty generation so lookups never see nil.
func (st *Store) Current() *Snapshot {
	if s := st.current.Load(); s != nil {
		return s
	}
	return emptySnapshot
}

var emptySnapshot = NewSnapshot()

// Install makes the snapshot current. A snapshot with zero records is
// accepted only as the first-ever generation (the persistence seed of an
// empty store); afterwards an empty result leaves the previous generation
// in place and Install reports false.
func (st *Store) Install(s *Snapshot) bool {
	if s.Entries() == 0 && st.current.Load() != nil {
		return false
	}
	st.current.Store(s)
	return true
}

// Lookup runs the query against the current generation.
func (st *Store) Lookup(q Query) (string, bool) {
	return st.Current().Lookup(q)
}

// EntryCount reports the record count of the live generation.
func (st *Store) EntryCount() int64 {
	return st.Current().Entries()
}
