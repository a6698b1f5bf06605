package authcache

import (
	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

// Query is the lookup side of a match: a connection attempt reduced to the
// fields the grant model cares about.
type Query struct {
	User string
	Host hostpattern.Pattern
	DB   string
}

// Matches reports whether one grant authorizes the query. The host step
// runs first, the database step only when the host step succeeds. Any
// single matching grant authorizes the account; no ranking between
// multiple matches is attempted.
func Matches(q Query, grant GrantRecord) bool {
	if q.User != grant.User {
		return false
	}
	if !hostpattern.Match(q.Host, grant.Host) {
		return false
	}
	return grant.Scope.Matches(q.DB)
}

// wildcardHost reports whether a grant's host side matches more than one
// address. Used by the localhost policy: snapshots loaded from a catalog
// with an anonymous account do not let loopback connections ride wildcard
// grants.
func wildcardHost(p hostpattern.Pattern) bool {
	switch p.Kind {
	case hostpattern.Any:
		return true
	case hostpattern.Network:
		return p.Prefix < 32
	}
	return false
}
