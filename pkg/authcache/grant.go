// Package authcache holds the in-memory replica of an upstream MySQL
// server's account-and-grant catalog: the grant model, the precedence
// matcher, the challenge-response credential check and the snapshot store
// the connection-gating layer queries.
package authcache

import (
	"strings"

	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

// MaxNameLen bounds externally sourced user and database names.
const MaxNameLen = 256

// ScopeKind classifies the database part of a grant.
type ScopeKind int

const (
	// ScopeDenied means the account has no database grant at all.
	ScopeDenied ScopeKind = iota
	// ScopeAny grants access to every database.
	ScopeAny
	// ScopeExact grants access to one named database.
	ScopeExact
	// ScopeWildcard grants access to databases matching a '%' pattern.
	ScopeWildcard
)

// DBScope is the database part of a grant.
type DBScope struct {
	Kind ScopeKind
	Name string // database name or '%' pattern
}

func DeniedScope() DBScope                 { return DBScope{Kind: ScopeDenied} }
func AnyScope() DBScope                    { return DBScope{Kind: ScopeAny} }
func ExactScope(name string) DBScope       { return DBScope{Kind: ScopeExact, Name: name} }
func WildcardScope(pattern string) DBScope { return DBScope{Kind: ScopeWildcard, Name: pattern} }

// ScopeForDB picks the scope kind for a database string pulled from the
// upstream catalog or the durable store.
func ScopeForDB(name string) DBScope {
	if strings.ContainsRune(name, '%') {
		return WildcardScope(name)
	}
	return ExactScope(name)
}

// Matches reports whether the requested database satisfies the scope. A
// denied scope matches nothing, including the empty database.
func (s DBScope) Matches(db string) bool {
	switch s.Kind {
	case ScopeAny:
		return true
	case ScopeExact:
		return db == s.Name
	case ScopeWildcard:
		return matchWildcardName(db, s.Name)
	}
	return false
}

// matchWildcardName tests a database name against a '%' pattern,
// case-insensitively. '%' stands for any run of characters, everything
// else matches verbatim. Backtracks on the most recent '%' the way a
// conventional glob matcher does.
func matchWildcardName(name, pattern string) bool {
	name = strings.ToLower(name)
	pattern = strings.ToLower(pattern)
	ni, pi := 0, 0
	starPi, starNi := -1, 0
	for ni < len(name) {
		switch {
		case pi < len(pattern) && pattern[pi] == '%':
			starPi, starNi = pi, ni
			pi++
		case pi < len(pattern) && pattern[pi] == name[ni]:
			pi++
			ni++
		case starPi >= 0:
			starNi++
			ni = starNi
			pi = starPi + 1
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '%' {
		pi++
	}
	return pi == len(pattern)
}

// GrantKey identifies a principal and host scope. User is empty for the
// anonymous account.
type GrantKey struct {
	User    string
	Host    hostpattern.Pattern
	HostRaw string // source pattern as pulled from the catalog
}

// GrantRecord binds a key to a database scope and a credential. The
// credential is the hex form of SHA1(SHA1(password)), empty for
// passwordless accounts.
type GrantRecord struct {
	GrantKey
	Scope      DBScope
	Credential string
}

// dedupKey collapses repeated upstream rows for the same user, host
// pattern and scope; the last write wins.
func (r GrantRecord) dedupKey() string {
	var b strings.Builder
	b.WriteString(r.User)
	b.WriteByte(0)
	b.WriteString(r.HostRaw)
	b.WriteByte(0)
	b.WriteByte(byte('0' + r.Scope.Kind))
	b.WriteString(r.Scope.Name)
	return b.String()
}
