package session

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"taxrollsync/internal/auth"
	"taxrollsync/internal/blob"
	"taxrollsync/internal/notify"
	"taxrollsync/internal/replication"
	"taxrollsync/internal/report"
	"taxrollsync/pkg/domain"
)

// sqliteService wires a service to two real sqlite replicas with the module
// tables created.
func sqliteService(t *testing.T) (*Service, []string) {
	t.Helper()
	ctx := context.Background()
	catalog := domain.DefaultCatalog()
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.db"), filepath.Join(dir, "b.db")}
	targets := make([]replication.Target, len(paths))
	for i, p := range paths {
		st, err := replication.NewSQLTarget(replication.Descriptor{Name: fmt.Sprintf("t%d", i), Driver: replication.DriverSQLite, Database: p})
		require.NoError(t, err)
		require.NoError(t, st.ApplySchema(ctx, replication.SchemaDDL(st.Dialect(), catalog.Schemas())))
		targets[i] = st
	}
	t.Cleanup(func() { replication.CloseTargets(targets) })
	coord, err := replication.NewCoordinator(targets)
	require.NoError(t, err)
	svc, err := NewService(Deps{
		Catalog:    catalog,
		Writer:     coord,
		Exporter:   report.NewExporter(catalog),
		Publisher:  report.NewPublisher(blob.NewMemory(), "", ""),
		Dispatcher: &notify.Recorder{},
		Verifier: auth.VerifierFunc(func(context.Context, string, string) (bool, error) {
			return true, nil
		}),
		Cache: &memCache{},
		Now:   func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	_, err = svc.Login(ctx, "jdoe", "pw")
	require.NoError(t, err)
	return svc, paths
}

func sqliteCount(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n))
	return n
}

func TestSaveBindsOnlySchemaColumnsOnRealTargets(t *testing.T) {
	svc, paths := sqliteService(t)
	rows := [][]string{{"2024", "1", "A", "1000", "B1", "stray"}}

	res, err := svc.Save(context.Background(), domain.ModuleLandsizeUpdate, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Partial)
	assert.Empty(t, res.Failures)
	for _, p := range paths {
		assert.Equal(t, 1, sqliteCount(t, p, "Taxroll_LandsizeUpdateEntries"))
	}

	snap, err := svc.Pending()
	require.NoError(t, err)
	require.Len(t, snap[domain.ModuleLandsizeUpdate], 1)
	assert.Len(t, snap[domain.ModuleLandsizeUpdate][0].Values, 6)
}

func TestUploadWithCellPastLastColumnWritesNothing(t *testing.T) {
	svc, paths := sqliteService(t)
	schema, err := svc.Catalog().Lookup(domain.ModuleTaxrollInsert)
	require.NoError(t, err)

	f := excelize.NewFile()
	header := make([]any, schema.Len())
	for i, name := range schema.Headers() {
		header[i] = name
	}
	wide := make([]any, schema.Len()+1)
	wide[0] = "R1"
	wide[schema.Len()] = "note"
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"R0", "2024"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &wide))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := svc.Upload(context.Background(), bytes.NewReader(buf.Bytes()))
	var mismatch *domain.HeaderMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Zero(t, res.Inserted)
	for _, p := range paths {
		assert.Zero(t, sqliteCount(t, p, "Taxroll_InsertEntries"))
	}
}
