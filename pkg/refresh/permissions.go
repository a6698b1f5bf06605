package refresh

import (
	"errors"
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/rs/zerolog"
)

// checkPermissions probes the catalog tables the refresh reads. A denial
// on the account table makes the source unusable; denials on the grant
// tables only degrade the pull to account-level scope.
func checkPermissions(conn catalogConn, logger zerolog.Logger) (dbGrants bool, err error) {
	probe := fmt.Sprintf("SELECT user, host, %s, select_priv FROM mysql.user LIMIT 1",
		passwordColumnFor(conn.GetServerVersion()))
	if _, err := conn.Execute(probe); err != nil {
		if accessDenied(err) {
			return false, fmt.Errorf("missing SELECT privilege on mysql.user: %w", err)
		}
		return false, fmt.Errorf("probing mysql.user: %w", err)
	}

	dbGrants = true
	for _, probe := range []string{
		"SELECT user, host, db FROM mysql.db LIMIT 1",
		"SELECT user, host, db FROM mysql.tables_priv LIMIT 1",
	} {
		if _, err := conn.Execute(probe); err != nil {
			logger.Warn().Err(err).Msg("grant tables not readable, database scope degraded")
			dbGrants = false
			break
		}
	}
	return dbGrants, nil
}

func accessDenied(err error) bool {
	var myErr *mysql.MyError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Code == mysql.ER_TABLEACCESS_DENIED_ERROR ||
		myErr.Code == mysql.ER_ACCESS_DENIED_ERROR
}
