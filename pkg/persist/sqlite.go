// Package persist round-trips the grant cache through a durable local
// store so authentication can run against last-known-good data while the
// upstream source is unreachable.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/hostpattern"
)

const (
	accountsCreateSQL = `CREATE TABLE IF NOT EXISTS accounts ` +
		`(user varchar(255), host varchar(255), db varchar(255), anydb boolean, credential text)`
	databasesCreateSQL = `CREATE TABLE IF NOT EXISTS databases (name varchar(255))`

	deleteAccountsSQL  = `DELETE FROM accounts`
	deleteDatabasesSQL = `DELETE FROM databases`
	insertAccountSQL   = `INSERT INTO accounts (user, host, db, anydb, credential) VALUES (?, ?, ?, ?, ?)`
	insertDatabaseSQL  = `INSERT INTO databases (name) VALUES (?)`
	selectAccountsSQL  = `SELECT user, host, db, anydb, credential FROM accounts`
	selectDatabasesSQL = `SELECT name FROM databases`
)

// Bridge is the durable store. Checkpoint and Seed are serialized against
// each other; neither touches the live snapshot.
type Bridge struct {
	mu     sync.Mutex
	conn   *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the store and makes sure the schema exists.
func Open(path string, logger zerolog.Logger) (*Bridge, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range []string{accountsCreateSQL, databasesCreateSQL} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return &Bridge{
		conn:   conn,
		logger: logger.With().Str("component", "persist").Str("path", path).Logger(),
	}, nil
}

func (b *Bridge) Close() error {
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Checkpoint replaces the store's contents with the given generation in
// one transaction.
func (b *Bridge) Checkpoint(ctx context.Context, snap *authcache.Snapshot, catalog *authcache.Catalog) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{deleteAccountsSQL, deleteDatabasesSQL} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to delete old rows: %w", err)
		}
	}

	var insertErr error
	rows := 0
	snap.ForEach(func(rec authcache.GrantRecord) {
		if insertErr != nil {
			return
		}
		db, anydb := encodeScope(rec.Scope)
		if _, err := tx.ExecContext(ctx, insertAccountSQL, rec.User, rec.HostRaw, db, anydb, rec.Credential); err != nil {
			insertErr = fmt.Errorf("failed to insert account row: %w", err)
			return
		}
		rows++
	})
	if insertErr != nil {
		return insertErr
	}
	for _, name := range catalog.Names() {
		if _, err := tx.ExecContext(ctx, insertDatabaseSQL, name); err != nil {
			return fmt.Errorf("failed to insert database row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	b.logger.Info().Int("accounts", rows).Int("databases", catalog.Len()).Msg("checkpoint written")
	return nil
}

// Seed loads the store's contents into a fresh snapshot and catalog. A
// store that was never written yields an empty generation, not an error.
// localhostMatchWildcard forces the loopback-vs-wildcard-host policy on
// the seeded generation; nil picks the same default as a live refresh.
func (b *Bridge) Seed(ctx context.Context, localhostMatchWildcard *bool) (*authcache.Snapshot, *authcache.Catalog, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	snap := authcache.NewSnapshot()
	catalog := authcache.NewCatalog()

	rows, err := tx.QueryContext(ctx, selectAccountsSQL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var user, host, cred string
		var db sql.NullString
		var anydb bool
		if err := rows.Scan(&user, &host, &db, &anydb, &cred); err != nil {
			return nil, nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		pattern, err := hostpattern.Parse(host)
		if err != nil {
			b.logger.Warn().Err(err).Str("user", user).Str("host", host).Msg("unusable persisted grant skipped")
			continue
		}
		snap.Add(authcache.GrantRecord{
			GrantKey:   authcache.GrantKey{User: user, Host: pattern, HostRaw: host},
			Scope:      decodeScope(db, anydb),
			Credential: cred,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	dbRows, err := tx.QueryContext(ctx, selectDatabasesSQL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read databases: %w", err)
	}
	defer dbRows.Close()
	for dbRows.Next() {
		var name string
		if err := dbRows.Scan(&name); err != nil {
			return nil, nil, fmt.Errorf("failed to scan database row: %w", err)
		}
		catalog.Add(name)
	}
	if err := dbRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate databases: %w", err)
	}

	if localhostMatchWildcard != nil {
		snap.SetLocalhostMatchWildcard(*localhostMatchWildcard)
	} else {
		snap.SetLocalhostMatchWildcard(!snap.AnonymousSeen())
	}
	b.logger.Info().Int64("accounts", snap.Entries()).Int("databases", catalog.Len()).Msg("seeded from durable store")
	return snap, catalog, nil
}

// encodeScope flattens a DBScope into the (db, anydb) column pair. Denied
// is a NULL db without the anydb flag, Any is NULL with the flag.
func encodeScope(s authcache.DBScope) (interface{}, bool) {
	switch s.Kind {
	case authcache.ScopeAny:
		return nil, true
	case authcache.ScopeExact, authcache.ScopeWildcard:
		return s.Name, false
	}
	return nil, false
}

func decodeScope(db sql.NullString, anydb bool) authcache.DBScope {
	switch {
	case anydb:
		return authcache.AnyScope()
	case !db.Valid:
		return authcache.DeniedScope()
	default:
		return authcache.ScopeForDB(db.String)
	}
}
