package repository

import (
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Fixed width so that SQLite's text comparison orders timestamps correctly.
const sqliteTimeLayout = "2006-01-02 15:04:05.000"

// rebind rewrites ? placeholders to $n for PostgreSQL.
func rebind(driver, q string) string {
	if driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg converts a timestamp into the parameter form each driver compares correctly.
func timeArg(driver string, t time.Time) any {
	t = t.UTC()
	if driver == DriverPostgres {
		return t
	}
	return t.Format(sqliteTimeLayout)
}
