package querier

import (
	"strings"
)

// Dialect names the SQL flavour of a database/sql driver.
type Dialect string

const (
	DialectMySQL      Dialect = "MySQL"
	DialectPostgreSQL Dialect = "PostgreSQL"
	DialectClickHouse Dialect = "ClickHouse"
	DialectDuckDB     Dialect = "DuckDB"
)

// DialectFor maps a registered driver name to its dialect.
func DialectFor(driver string) (Dialect, bool) {
	switch strings.ToLower(driver) {
	case "mysql":
		return DialectMySQL, true
	case "pgx", "postgres", "postgresql":
		return DialectPostgreSQL, true
	case "clickhouse":
		return DialectClickHouse, true
	case "duckdb":
		return DialectDuckDB, true
	}
	return "", false
}

// QuoteIdent quotes an identifier for the dialect.
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectMySQL || d == DialectClickHouse {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal.
func (d Dialect) QuoteLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if d == DialectMySQL || d == DialectClickHouse {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + s + "'"
}

// CurrentSchemaExpr returns the SQL expression naming the default schema of
// a connection.
func (d Dialect) CurrentSchemaExpr() string {
	switch d {
	case DialectMySQL, DialectClickHouse:
		return "database()"
	default:
		return "current_schema()"
	}
}
