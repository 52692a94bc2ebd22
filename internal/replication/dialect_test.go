package replication

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrollsync/pkg/domain"
)

func TestStatementRenderPerDialect(t *testing.T) {
	stmt := Statement{Table: "Taxroll_LandsizeUpdateEntries", Columns: []string{"Taxyear", "LandSQFT"}}
	cases := map[Driver]string{
		DriverSQLServer: "INSERT INTO [Taxroll_LandsizeUpdateEntries] ([Taxyear],[LandSQFT]) VALUES (@p1,@p2)",
		DriverPGX:       `INSERT INTO "Taxroll_LandsizeUpdateEntries" ("Taxyear","LandSQFT") VALUES ($1,$2)`,
		DriverPostgres:  `INSERT INTO "Taxroll_LandsizeUpdateEntries" ("Taxyear","LandSQFT") VALUES ($1,$2)`,
		DriverSQLite:    `INSERT INTO "Taxroll_LandsizeUpdateEntries" ("Taxyear","LandSQFT") VALUES (?,?)`,
	}
	for driver, want := range cases {
		d, err := DialectFor(driver)
		require.NoError(t, err)
		assert.Equal(t, want, stmt.Render(d), driver)
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestQuoteEscapesDelimiters(t *testing.T) {
	assert.Equal(t, "[a]]b]", sqlServerDialect{}.Quote("a]b"))
	assert.Equal(t, `"a""b"`, postgresDialect{}.Quote(`a"b`))
}

func TestInsertForAppendsAuditColumns(t *testing.T) {
	schema, err := domain.DefaultCatalog().Lookup(domain.ModuleGBAUpdate)
	require.NoError(t, err)
	stmt := InsertFor(schema)
	require.Len(t, stmt.Columns, schema.Len()+2)
	assert.Equal(t, domain.AuditAuthorColumn, stmt.Columns[schema.Len()])
	assert.Equal(t, domain.AuditCreatedColumn, stmt.Columns[schema.Len()+1])
}

func TestSchemaDDLSplitsIntoOneStatementPerModule(t *testing.T) {
	schemas := domain.DefaultCatalog().Schemas()
	for _, driver := range []Driver{DriverSQLServer, DriverPostgres, DriverSQLite} {
		d, err := DialectFor(driver)
		require.NoError(t, err)
		stmts := SplitStatements(SchemaDDL(d, schemas))
		require.Len(t, stmts, len(schemas), driver)
		for i, s := range stmts {
			assert.Contains(t, s, schemas[i].Table)
			assert.False(t, strings.HasPrefix(s, "--"))
			assert.Contains(t, s, d.TimestampType())
		}
	}
	sqlite, _ := DialectFor(DriverSQLite)
	ddl := SchemaDDL(sqlite, schemas[:1])
	assert.Contains(t, ddl, `"LandValue" REAL NULL`)
	assert.Contains(t, ddl, `"Taxyear" TEXT NULL`)
	assert.Contains(t, ddl, `"CreatedBy" TEXT NOT NULL`)
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	got := SplitStatements("-- comment\nCREATE TABLE a (x INT);\n\nSELECT 1")
	assert.Equal(t, []string{"CREATE TABLE a (x INT);", "SELECT 1"}, got)
}

func TestDescriptorConnString(t *testing.T) {
	integrated := Descriptor{Driver: DriverSQLServer, Server: "db01", Database: "Taxroll", AuthMode: AuthIntegrated, User: "ignored"}
	require.NoError(t, integrated.Validate())
	cs := integrated.ConnString()
	assert.True(t, strings.HasPrefix(cs, "sqlserver://db01"))
	assert.Contains(t, cs, "database=Taxroll")
	assert.NotContains(t, cs, "ignored")

	pw := Descriptor{Driver: DriverSQLServer, Server: "db02", Database: "Taxroll", AuthMode: AuthPassword, User: "svc", Password: "p@ss"}
	assert.Contains(t, pw.ConnString(), "svc:")

	pg := Descriptor{Driver: DriverPGX, Server: "localhost:5432", Database: "taxroll"}
	assert.True(t, strings.HasPrefix(pg.ConnString(), "postgres://localhost:5432/taxroll"))

	explicit := Descriptor{Driver: DriverPostgres, DSN: "postgres://x/y"}
	assert.Equal(t, "postgres://x/y", explicit.ConnString())

	assert.Error(t, Descriptor{Driver: "mysql", Database: "x"}.Validate())
	assert.Error(t, Descriptor{Driver: DriverSQLServer, Database: "x"}.Validate())
	assert.Error(t, Descriptor{Driver: DriverSQLite}.Validate())
	assert.Error(t, Descriptor{Driver: DriverSQLServer, Server: "s", Database: "d", AuthMode: "kerberos"}.Validate())
}
