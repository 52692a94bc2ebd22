package replication

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrollsync/pkg/domain"
)

func TestSQLiteTargetRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replica.db")
	target, err := NewSQLTarget(Descriptor{Name: "local", Driver: DriverSQLite, Database: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	require.NoError(t, target.Ping(ctx))
	catalog := domain.DefaultCatalog()
	require.NoError(t, target.ApplySchema(ctx, SchemaDDL(target.Dialect(), catalog.Schemas())))
	// idempotent
	require.NoError(t, target.ApplySchema(ctx, SchemaDDL(target.Dialect(), catalog.Schemas())))

	schema, err := catalog.Lookup(domain.ModuleValueUpdate)
	require.NoError(t, err)
	rec := domain.Record{
		Values:    domain.Row{"2024", "12", "R0001", "A1", 15000.0, 200000.0, 215000.0, 215000.0, "B7", nil},
		Author:    "jdoe",
		CreatedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, target.Write(ctx, InsertFor(schema), rec.Args()))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var (
		land   float64
		batch  string
		author string
		vtype  sql.NullString
	)
	row := db.QueryRowContext(ctx, `SELECT "LandValue","Batch","CreatedBy","ValueType" FROM "Taxroll_UpdateEntries"`)
	require.NoError(t, row.Scan(&land, &batch, &author, &vtype))
	assert.Equal(t, 15000.0, land)
	assert.Equal(t, "B7", batch)
	assert.Equal(t, "jdoe", author)
	assert.False(t, vtype.Valid)
}

func TestSQLiteTargetRejectsMissingTable(t *testing.T) {
	target, err := NewSQLTarget(Descriptor{Driver: DriverSQLite, Database: filepath.Join(t.TempDir(), "empty.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = target.Close() })

	err = target.Write(context.Background(), Statement{Table: "missing", Columns: []string{"a"}}, []any{"x"})
	assert.ErrorContains(t, err, "insert missing")
}

func TestOpenTargetsValidation(t *testing.T) {
	_, err := OpenTargets(nil)
	assert.Error(t, err)

	_, err = OpenTargets([]Descriptor{
		{Name: "a", Driver: DriverSQLite, Database: "a.db"},
		{Name: "a", Driver: DriverSQLite, Database: "b.db"},
	})
	assert.ErrorContains(t, err, "duplicate")

	_, err = OpenTargets([]Descriptor{{Name: "bad", Driver: "mysql", Database: "x"}})
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestPingReportsUnreachableStub(t *testing.T) {
	targets, conns := stubTargets(t, 1)
	conns[0].SetFailOpen(true)
	err := targets[0].(*SQLTarget).Ping(context.Background())
	assert.ErrorContains(t, err, "ping replica0")
}
