package authcache

import (
	"sync/atomic"

	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

// Snapshot is a point-in-time view of all grants. The refresh cycle builds
// one wholesale with Add and hands it to Store.Install; after that it is
// never mutated, only superseded. The fetch counter is the one field that
// moves after install and it lives on the snapshot itself, so a reader
// holding a generation never mixes records and counters across
// generations.
type Snapshot struct {
	records map[string][]GrantRecord // keyed by user
	index   map[string]int           // dedupKey -> position in records[user]

	adds        int64
	entries     int64
	fetches     atomic.Int64
	anonymous   bool
	literals    bool
	localhostWC bool
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		records:     map[string][]GrantRecord{},
		index:       map[string]int{},
		localhostWC: true,
	}
}

// Add inserts one grant record. Repeated inserts for the same user, host
// pattern and scope replace the earlier record; distinct scopes for the
// same user and host coexist.
func (s *Snapshot) Add(rec GrantRecord) {
	s.adds++
	if rec.User == "" {
		s.anonymous = true
	}
	if rec.Host.Kind == hostpattern.Literal {
		s.literals = true
	}
	key := rec.dedupKey()
	if i, ok := s.index[key]; ok {
		s.records[rec.User][i] = rec
		return
	}
	s.index[key] = len(s.records[rec.User])
	s.records[rec.User] = append(s.records[rec.User], rec)
	s.entries++
}

// Lookup finds a grant matching the query and returns its stored
// credential. Loopback queries skip wildcard-host grants when the
// localhost policy forbids them.
func (s *Snapshot) Lookup(q Query) (string, bool) {
	s.fetches.Add(1)
	loopback := q.Host.Kind == hostpattern.Network && q.Host.Addr.IsLoopback()
	for _, rec := range s.records[q.User] {
		if loopback && !s.localhostWC && wildcardHost(rec.Host) {
			continue
		}
		if Matches(q, rec) {
			return rec.Credential, true
		}
	}
	return "", false
}

// ForEach visits every record; iteration order is unspecified.
func (s *Snapshot) ForEach(fn func(GrantRecord)) {
	for _, recs := range s.records {
		for _, rec := range recs {
			fn(rec)
		}
	}
}

// SetLocalhostMatchWildcard fixes the loopback-vs-wildcard policy for this
// generation. Called once, before install.
func (s *Snapshot) SetLocalhostMatchWildcard(allow bool) { s.localhostWC = allow }

func (s *Snapshot) LocalhostMatchWildcard() bool { return s.localhostWC }

// AnonymousSeen reports whether an empty-user row was loaded; the refresh
// cycle uses it to pick the default localhost policy.
func (s *Snapshot) AnonymousSeen() bool { return s.anonymous }

// HasLiteralGrants reports whether any grant needs a resolved hostname to
// match; lookups only fall back to reverse DNS when it is set.
func (s *Snapshot) HasLiteralGrants() bool { return s.literals }

func (s *Snapshot) Entries() int64 { return s.entries }
func (s *Snapshot) Adds() int64    { return s.adds }
func (s *Snapshot) Fetches() int64 { return s.fetches.Load() }
