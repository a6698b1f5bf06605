package refresh

import (
	"fmt"
	"strings"
)

// Password hashes moved to a new column in the 5.7 series; every other
// release line this cache targets keeps the old name.
const (
	passwordColumn   = "password"
	passwordColumn57 = "authentication_string"
)

const grantQueryTemplate = `SELECT u.user, u.host, d.db, u.select_priv, u.%[1]s ` +
	`FROM mysql.user AS u LEFT JOIN mysql.db AS d ` +
	`ON (u.user = d.user AND u.host = d.host) %[2]s ` +
	`UNION ` +
	`SELECT u.user, u.host, t.db, u.select_priv, u.%[1]s ` +
	`FROM mysql.user AS u LEFT JOIN mysql.tables_priv AS t ` +
	`ON (u.user = t.user AND u.host = t.host) %[2]s`

const accountQueryTemplate = `SELECT u.user, u.host, u.%s FROM mysql.user AS u %s`

const showDatabasesQuery = `SHOW DATABASES`

func passwordColumnFor(serverVersion string) string {
	if strings.Contains(serverVersion, "5.7.") {
		return passwordColumn57
	}
	return passwordColumn
}

func rootFilter(includeRoot bool) string {
	if includeRoot {
		return ""
	}
	return "WHERE u.user NOT IN ('root')"
}

// grantQuery selects every account row joined with its per-database and
// per-table grants.
func grantQuery(serverVersion string, includeRoot bool) string {
	return fmt.Sprintf(grantQueryTemplate, passwordColumnFor(serverVersion), rootFilter(includeRoot))
}

// accountQuery is the degraded form used when the grant tables are not
// readable; it yields accounts without database scope information.
func accountQuery(serverVersion string, includeRoot bool) string {
	return fmt.Sprintf(accountQueryTemplate, passwordColumnFor(serverVersion), rootFilter(includeRoot))
}

// stripEscapes removes the backslashes MySQL stores in grant-table
// database names to escape wildcard characters.
func stripEscapes(db string) string {
	if !strings.ContainsRune(db, '\\') {
		return db
	}
	var b strings.Builder
	b.Grow(len(db))
	for i := 0; i < len(db); i++ {
		if db[i] == '\\' && i+1 < len(db) {
			i++
		}
		b.WriteByte(db[i])
	}
	return b.String()
}
