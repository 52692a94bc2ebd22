package cli

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"taxrollsync/internal/auth"
	"taxrollsync/pkg/domain"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T, extra string) env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	hash, err := auth.HashSecret("pw", bcrypt.MinCost)
	require.NoError(t, err)
	body := fmt.Sprintf(`targets:
  - name: primary
    driver: sqlite
    database: %[1]s
  - name: replica
    driver: sqlite
    database: %[2]s
blob:
  driver: fs
  fs_root: %[3]s
report:
  archive_prefix: archive
auth:
  cache_path: %[4]s
  users:
    jdoe: "%[5]s"
log:
  level: debug
  file: %[6]s
metrics:
  exporter: expvar
%[7]s`,
		filepath.Join(dir, "primary.db"),
		filepath.Join(dir, "replica.db"),
		filepath.Join(dir, "reports"),
		filepath.Join(dir, "auth.json"),
		hash,
		filepath.Join(dir, "taxroll.log"),
		extra)
	path := filepath.Join(dir, "taxroll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return env{dir: dir, config: path}
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return run(t, stdin, append([]string{"--config", e.config}, args...)...)
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n))
	return n
}

func valueUpdateTSV(t *testing.T, dir string, rows ...string) string {
	t.Helper()
	schema, err := domain.DefaultCatalog().Lookup(domain.ModuleValueUpdate)
	require.NoError(t, err)
	lines := append([]string{strings.Join(schema.Headers(), "\t")}, rows...)
	path := filepath.Join(dir, "values.tsv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "taxroll dev\n", out)
}

func TestConfigInitWritesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "taxroll.yaml")

	out, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	out, err = run(t, "", "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.run(t, "", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "config: "+e.config)
	assert.Contains(t, out, "policy: accept-if-any")
	assert.Contains(t, out, "target: replica (sqlite)")
}

func TestAuthHash(t *testing.T) {
	out, err := run(t, "s3cret\n", "auth", "hash", "--cost", "4")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	_, err = run(t, "", "auth", "hash")
	assert.ErrorContains(t, err, "empty secret")
}

func TestTargetsInitAndCheck(t *testing.T) {
	e := newEnv(t, "")

	out, err := e.run(t, "", "targets", "init", "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "-- target primary")
	assert.Contains(t, out, "CREATE TABLE")

	out, err = e.run(t, "", "targets", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "primary: 5 table(s) ready")
	assert.Contains(t, out, "replica: 5 table(s) ready")
	assert.Equal(t, 0, countRows(t, filepath.Join(e.dir, "replica.db"), "Taxroll_UpdateEntries"))

	out, err = e.run(t, "", "targets", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "primary: ok")
	assert.Contains(t, out, "replica: ok")
}

func TestIngestReplicatesRowsAndRemembersLogin(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.run(t, "", "targets", "init")
	require.NoError(t, err)
	file := valueUpdateTSV(t, e.dir,
		"2024\t001\t123\t5\t1000.5\t200\t1200.5\t1300.5\tB1\tVT1",
		"\t\t\t\t\t\t\t\t\t",
		"2024\t001\t124\t5\t$1,000\t200\t1200\t1300\tB1\tVT1",
	)

	_, err = e.run(t, "", "ingest", "-m", "Value Update", "-f", file)
	assert.ErrorContains(t, err, "not signed in")

	_, err = e.run(t, "wrong\n", "ingest", "-m", "Value Update", "-f", file, "--identity", "jdoe")
	var authErr *domain.AuthenticationError
	assert.ErrorAs(t, err, &authErr)

	out, err := e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", file, "--identity", "jdoe")
	require.NoError(t, err)
	assert.Contains(t, out, "Value Update: 2 record(s) inserted")
	assert.Equal(t, 2, countRows(t, filepath.Join(e.dir, "primary.db"), "Taxroll_UpdateEntries"))
	assert.Equal(t, 2, countRows(t, filepath.Join(e.dir, "replica.db"), "Taxroll_UpdateEntries"))

	out, err = e.run(t, "", "ingest", "-m", "Value Update", "-f", file)
	require.NoError(t, err)
	assert.Contains(t, out, "2 record(s) inserted")

	out, err = e.run(t, "", "auth", "forget")
	require.NoError(t, err)
	assert.Contains(t, out, "remembered login cleared")
	_, err = e.run(t, "", "ingest", "-m", "Value Update", "-f", file)
	assert.ErrorContains(t, err, "not signed in")
}

func TestIngestSurvivesMissingReplicaTable(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.run(t, "", "targets", "init")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(e.dir, "replica.db")))
	file := valueUpdateTSV(t, e.dir, "2024\t001\t123\t5\t1\t2\t3\t4\tB1\tVT1")

	out, err := e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", file, "--identity", "jdoe")
	require.NoError(t, err)
	assert.Contains(t, out, "1 record(s) inserted, 1 on some replicas only")
	assert.Equal(t, 1, countRows(t, filepath.Join(e.dir, "primary.db"), "Taxroll_UpdateEntries"))
}

func TestUploadTemplateRoundTripsThroughIngest(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.run(t, "", "targets", "init")
	require.NoError(t, err)

	out, err := e.run(t, "", "upload", "template")
	require.NoError(t, err)
	assert.Contains(t, out, "Taxroll Insert Template.xlsx (50 columns)")
	path := filepath.Join(e.dir, "Taxroll Insert Template.xlsx")
	assert.FileExists(t, path)

	out, err = e.run(t, "pw\n", "ingest", "-f", path, "--identity", "jdoe")
	require.NoError(t, err)
	assert.Contains(t, out, "Taxroll Insert: 0 record(s) inserted")

	_, err = e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", path, "--identity", "jdoe")
	var mismatch *domain.HeaderMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestSubmitPublishesEvenWhenMailFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	e := newEnv(t, fmt.Sprintf(`  addr: 127.0.0.1:0
smtp:
  host: 127.0.0.1
  port: %d
  from: bot@example.com
  to: [ops@example.com]
  timeout: 2s
`, port))
	_, err = e.run(t, "", "targets", "init")
	require.NoError(t, err)

	out, err := e.run(t, "", "reports", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no report published at Taxroll_Update_Report.xlsx")

	file := valueUpdateTSV(t, e.dir, "2024\t001\t123\t5\t1\t2\t3\t4\tB1\tVT1")
	out, err = e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", file, "--identity", "jdoe", "--submit")
	var dispatchErr *domain.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Contains(t, out, "1 record(s) inserted")

	out, err = e.run(t, "", "reports", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Taxroll_Update_Report.xlsx")
	assert.Contains(t, out, "archive/")
	assert.Contains(t, out, "jdoe")
}

func TestSubmitRequiresMailSettings(t *testing.T) {
	e := newEnv(t, "")
	file := valueUpdateTSV(t, e.dir, "2024\t001\t123\t5\t1\t2\t3\t4\tB1\tVT1")
	_, err := e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", file, "--identity", "jdoe", "--submit")
	assert.ErrorContains(t, err, "smtp")
}

func TestIngestReportsFailedRowsByFileLine(t *testing.T) {
	e := newEnv(t, "")
	path := filepath.Join(e.dir, "values.tsv")
	body := "2024\t001\t123\t5\t1\t2\t3\t4\tB1\tVT1\n2024\t001\t124\t5\t1\t2\t3\t4\tB1\tVT1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	// no tables were created, so every row fails on every target
	out, err := e.run(t, "pw\n", "ingest", "-m", "Value Update", "-f", path, "--no-header", "--identity", "jdoe")
	require.NoError(t, err)
	assert.Contains(t, out, "0 record(s) inserted, 2 failed")
	assert.Contains(t, out, "  row 1: ")
	assert.Contains(t, out, "  row 2: ")
	assert.NotContains(t, out, "row 3")
}
