// Package refresh rebuilds the grant cache from upstream MySQL servers.
// One cycle connects to a source, pulls the database list and the
// account/grant rows, expands wildcard database grants against that same
// database list and installs the result as a new snapshot generation.
package refresh

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-mysql-org/go-mysql/client"
	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/rs/zerolog"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

// ErrNoReachableSource is returned when every candidate source refused
// the connection. The previous snapshot stays in place.
var ErrNoReachableSource = errors.New("no reachable upstream source")

// catalogConn is the slice of *client.Conn the pull needs; tests inject
// fakes through it.
type catalogConn interface {
	Execute(command string, args ...interface{}) (*mysql.Result, error)
	GetServerVersion() string
	Close() error
}

// Orchestrator drives one refresh cycle. Sources are tried in order; by
// default the first one that accepts the connection wins.
type Orchestrator struct {
	Sources  []string // host:port candidates, tried in order
	User     string
	Password string
	Dialer   client.Dialer

	IncludeRoot    bool
	StripDBEscapes bool
	UsersFromAll   bool // pull from every reachable source, not just the first

	// LocalhostMatchWildcard forces the loopback-vs-wildcard-host policy.
	// Nil picks the default: forbidden when an anonymous account exists.
	LocalhostMatchWildcard *bool

	Store  *authcache.Store
	Logger zerolog.Logger

	connect func(ctx context.Context, addr string) (catalogConn, error)
}

// Result is the outcome of one successful cycle.
type Result struct {
	Snapshot *authcache.Snapshot
	Catalog  *authcache.Catalog
	// Total is the maximum row count observed across pulled sources.
	Total int
	// Installed is false when the snapshot was empty and an earlier
	// generation stayed in place.
	Installed bool
}

func (o *Orchestrator) dial(ctx context.Context, addr string) (catalogConn, error) {
	if o.connect != nil {
		return o.connect(ctx, addr)
	}
	dialer := o.Dialer
	if dialer == nil {
		d := &net.Dialer{}
		dialer = d.DialContext
	}
	return client.ConnectWithDialer(ctx, "tcp", addr, o.User, o.Password, "", dialer)
}

// Refresh runs one cycle and installs the snapshot it built. It returns
// ErrNoReachableSource, with the previous generation untouched, when no
// source accepted the connection.
func (o *Orchestrator) Refresh(ctx context.Context) (*Result, error) {
	logger := o.Logger.With().Str("component", "refresh").Logger()

	snap := authcache.NewSnapshot()
	catalog := authcache.NewCatalog()
	total := -1

	for _, addr := range o.Sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := o.dial(ctx, addr)
		if err != nil {
			logger.Error().Err(err).Str("source", addr).Msg("connect failed")
			continue
		}
		rows, err := o.pullSource(conn, catalog, snap, logger.With().Str("source", addr).Logger())
		conn.Close()
		if err != nil {
			logger.Error().Err(err).Str("source", addr).Msg("pull failed")
			continue
		}
		if rows > total {
			total = rows
		}
		if !o.UsersFromAll {
			break
		}
	}
	if total < 0 {
		return nil, ErrNoReachableSource
	}

	if o.LocalhostMatchWildcard != nil {
		snap.SetLocalhostMatchWildcard(*o.LocalhostMatchWildcard)
	} else {
		snap.SetLocalhostMatchWildcard(!snap.AnonymousSeen())
	}

	installed := o.Store.Install(snap)
	if !installed {
		logger.Warn().Msg("refresh produced no rows, keeping previous snapshot")
	}
	logger.Info().
		Int("rows", total).
		Int64("entries", snap.Entries()).
		Int("databases", catalog.Len()).
		Bool("installed", installed).
		Msg("refresh complete")
	return &Result{Snapshot: snap, Catalog: catalog, Total: total, Installed: installed}, nil
}

// pullSource loads one server's catalog into the snapshot being built.
// The database list is pulled first so wildcard grants expand against the
// same generation.
func (o *Orchestrator) pullSource(conn catalogConn, catalog *authcache.Catalog, snap *authcache.Snapshot, logger zerolog.Logger) (int, error) {
	dbGrants, err := checkPermissions(conn, logger)
	if err != nil {
		return 0, err
	}

	res, err := conn.Execute(showDatabasesQuery)
	if err != nil {
		logger.Warn().Err(err).Msg("listing databases failed, wildcard grants will not expand")
	} else {
		for _, row := range res.Resultset.Values {
			catalog.Add(fieldString(row[0]))
		}
	}

	version := conn.GetServerVersion()
	if dbGrants {
		res, err = conn.Execute(grantQuery(version, o.IncludeRoot))
		if err != nil && accessDenied(err) {
			logger.Warn().Err(err).Msg("grant query denied, database scope degraded")
			dbGrants = false
		} else if err != nil {
			return 0, err
		}
	}
	if !dbGrants {
		res, err = conn.Execute(accountQuery(version, o.IncludeRoot))
		if err != nil {
			return 0, err
		}
	}

	rows := 0
	for _, row := range res.Resultset.Values {
		if dbGrants {
			o.addGrantRow(snap, catalog, row, logger)
		} else {
			o.addAccountRow(snap, row, logger)
		}
		rows++
	}
	return rows, nil
}

// addGrantRow handles one (user, host, db, select_priv, credential) row
// from the joined grant query.
func (o *Orchestrator) addGrantRow(snap *authcache.Snapshot, catalog *authcache.Catalog, row []mysql.FieldValue, logger zerolog.Logger) {
	user := fieldString(row[0])
	host := fieldString(row[1])
	if len(user) > authcache.MaxNameLen || len(host) > hostpattern.MaxHostLen {
		logger.Warn().Str("user", user).Msg("oversized account row skipped")
		return
	}

	var scope authcache.DBScope
	switch {
	case fieldString(row[3]) == "Y":
		scope = authcache.AnyScope()
	case row[2].Value() == nil:
		scope = authcache.DeniedScope()
	default:
		db := fieldString(row[2])
		if o.StripDBEscapes {
			db = stripEscapes(db)
		}
		if len(db) > authcache.MaxNameLen {
			logger.Warn().Str("user", user).Msg("oversized database name skipped")
			return
		}
		scope = authcache.ScopeForDB(db)
	}

	pattern, err := hostpattern.Parse(host)
	if err != nil {
		logger.Warn().Err(err).Str("user", user).Str("host", host).Msg("unusable grant skipped")
		return
	}
	key := authcache.GrantKey{User: user, Host: pattern, HostRaw: host}
	cred := credentialField(row[4])

	if scope.Kind == authcache.ScopeWildcard {
		// One concrete record per database that exists right now.
		for _, name := range catalog.Expand(scope.Name) {
			snap.Add(authcache.GrantRecord{GrantKey: key, Scope: authcache.ExactScope(name), Credential: cred})
		}
		return
	}
	snap.Add(authcache.GrantRecord{GrantKey: key, Scope: scope, Credential: cred})
}

// addAccountRow handles one (user, host, credential) row from the
// degraded account-only query; without grant tables every account is
// treated as unrestricted.
func (o *Orchestrator) addAccountRow(snap *authcache.Snapshot, row []mysql.FieldValue, logger zerolog.Logger) {
	user := fieldString(row[0])
	host := fieldString(row[1])
	if len(user) > authcache.MaxNameLen || len(host) > hostpattern.MaxHostLen {
		logger.Warn().Str("user", user).Msg("oversized account row skipped")
		return
	}
	pattern, err := hostpattern.Parse(host)
	if err != nil {
		logger.Warn().Err(err).Str("user", user).Str("host", host).Msg("unusable grant skipped")
		return
	}
	snap.Add(authcache.GrantRecord{
		GrantKey:   authcache.GrantKey{User: user, Host: pattern, HostRaw: host},
		Scope:      authcache.AnyScope(),
		Credential: credentialField(row[2]),
	})
}

func fieldString(v mysql.FieldValue) string {
	if v.Value() == nil {
		return ""
	}
	return string(v.AsString())
}

// credentialField normalizes a stored password hash; the catalog prefixes
// native hashes with '*'.
func credentialField(v mysql.FieldValue) string {
	cred := fieldString(v)
	return strings.TrimPrefix(cred, "*")
}
