package replication

import (
	"bufio"
	"fmt"
	"strings"

	"taxrollsync/pkg/domain"
)

// Dialect captures the SQL differences between replica engines.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	Quote(ident string) string
	ColumnType(t domain.ColumnType) string
	TimestampType() string
	CreateTable(table, body string) string
}

// DialectFor returns the dialect used by driver.
func DialectFor(driver Driver) (Dialect, error) {
	switch driver {
	case DriverSQLServer:
		return sqlServerDialect{}, nil
	case DriverPGX, DriverPostgres:
		return postgresDialect{}, nil
	case DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("no dialect for driver %q", driver)
	}
}

type sqlServerDialect struct{}

func (sqlServerDialect) Name() string             { return "sqlserver" }
func (sqlServerDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }
func (sqlServerDialect) Quote(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}
func (sqlServerDialect) ColumnType(t domain.ColumnType) string {
	if t == domain.ColumnNumeric {
		return "FLOAT"
	}
	return "NVARCHAR(MAX)"
}
func (sqlServerDialect) TimestampType() string { return "DATETIME2" }
func (d sqlServerDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (\n%s\n);",
		strings.ReplaceAll(table, "'", "''"), d.Quote(table), body)
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (postgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
func (postgresDialect) ColumnType(t domain.ColumnType) string {
	if t == domain.ColumnNumeric {
		return "DOUBLE PRECISION"
	}
	return "TEXT"
}
func (postgresDialect) TimestampType() string { return "TIMESTAMPTZ" }
func (d postgresDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", d.Quote(table), body)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
func (sqliteDialect) ColumnType(t domain.ColumnType) string {
	if t == domain.ColumnNumeric {
		return "REAL"
	}
	return "TEXT"
}
func (sqliteDialect) TimestampType() string { return "TIMESTAMP" }
func (d sqliteDialect) CreateTable(table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", d.Quote(table), body)
}

// Statement is a dialect-neutral positional insert.
type Statement struct {
	Table   string
	Columns []string
}

// InsertFor returns the insert statement for a module: schema columns plus audit columns.
func InsertFor(s domain.Schema) Statement {
	return Statement{Table: s.Table, Columns: s.InsertColumns()}
}

// Render produces the SQL text for d.
func (s Statement) Render(d Dialect) string {
	cols := make([]string, len(s.Columns))
	params := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = d.Quote(c)
		params[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(s.Table), strings.Join(cols, ","), strings.Join(params, ","))
}

// SchemaDDL returns the create-table script for every schema in d.
func SchemaDDL(d Dialect, schemas []domain.Schema) string {
	var b strings.Builder
	for _, s := range schemas {
		fmt.Fprintf(&b, "-- %s\n", s.Module)
		lines := make([]string, 0, s.Len()+2)
		for _, c := range s.Columns {
			lines = append(lines, fmt.Sprintf("\t%s %s NULL", d.Quote(c.Name), d.ColumnType(c.Type)))
		}
		lines = append(lines,
			fmt.Sprintf("\t%s %s NOT NULL", d.Quote(domain.AuditAuthorColumn), d.ColumnType(domain.ColumnText)),
			fmt.Sprintf("\t%s %s NOT NULL", d.Quote(domain.AuditCreatedColumn), d.TimestampType()),
		)
		b.WriteString(d.CreateTable(s.Table, strings.Join(lines, ",\n")))
		b.WriteString("\n")
	}
	return b.String()
}

// SplitStatements splits a semicolon-terminated script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
