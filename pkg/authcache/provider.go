package authcache

import (
	"context"
	"net/netip"

	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
	"github.com/rs/zerolog"
)

// Authenticator is the entry point the session layer calls per
// authentication attempt. It pairs the snapshot lookup with the
// challenge-response check and never touches the network except for the
// last-resort reverse-DNS fallback.
type Authenticator struct {
	store    *Store
	resolver *Resolver
	logger   zerolog.Logger
}

func NewAuthenticator(store *Store, resolver *Resolver, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		store:    store,
		resolver: resolver,
		logger:   logger.With().Str("component", "authenticator").Logger(),
	}
}

// Attempt describes one client authentication exchange.
type Attempt struct {
	User     string
	Addr     netip.Addr // peer network address
	Database string     // requested default database, may be empty
	Token    []byte     // client response to the challenge
	Scramble []byte     // challenge the server issued
}

// Validate checks the attempt against the current snapshot. On success it
// returns SHA1(password), the credential the proxy forwards when it
// re-authenticates downstream on the client's behalf. A false result is an
// ordinary authentication rejection.
func (a *Authenticator) Validate(ctx context.Context, at Attempt) ([]byte, bool) {
	if len(at.User) > MaxNameLen || len(at.Database) > MaxNameLen {
		a.logger.Warn().Str("user", truncate(at.User)).Msg("rejecting oversized authentication fields")
		return nil, false
	}
	snap := a.store.Current()

	q := Query{User: at.User, Host: hostpattern.FromAddr(at.Addr), DB: at.Database}
	cred, found := snap.Lookup(q)
	if !found && snap.HasLiteralGrants() && a.resolver != nil {
		// Hostname grants exist and the address path came up empty;
		// only now pay for the DNS round trip.
		if name, ok := a.resolver.ReverseLookup(ctx, at.Addr); ok {
			q.Host = hostpattern.FromHostname(name)
			cred, found = snap.Lookup(q)
		}
	}
	if !found {
		return nil, false
	}

	passthrough, ok := CheckScramble(cred, at.Token, at.Scramble)
	if !ok {
		a.logger.Debug().Str("user", at.User).Stringer("addr", at.Addr).Msg("password mismatch")
		return nil, false
	}
	return passthrough, true
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
