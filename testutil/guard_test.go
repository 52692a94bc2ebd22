package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDriverImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"database/sql", true},
		{"database/sql/driver", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"modernc.org/sqlite", true},
		{"github.com/lib/pqx", false},
		{"taxrollsync/internal/replication", false},
	}
	for _, c := range cases {
		if got := DriverImportForbidden(c.in); got != c.want {
			t.Fatalf("DriverImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAnyCombinesPredicates(t *testing.T) {
	pred := Any(InternalImportForbidden, TerminalImportForbidden)
	for in, want := range map[string]bool{
		"taxrollsync/internal/grid":              true,
		"github.com/charmbracelet/bubbletea":     true,
		"github.com/atotto/clipboard":            true,
		"taxrollsync/pkg/domain":                 false,
		"github.com/charmbracelet-fork/whatever": false,
	} {
		if got := pred(in); got != want {
			t.Fatalf("Any(%q)=%v want %v", in, got, want)
		}
	}
}

func TestAssertNoDirectImportsPasses(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, DriverImportForbidden, "none")
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestViolationsAreReportedIgnoringTests(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"store.go":      "package tmp\nimport _ \"modernc.org/sqlite\"\n",
		"store_test.go": "package tmp\nimport _ \"database/sql\"\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite (in store.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	rec := &recordingFatal{}
	failIfViolations(rec, "drivers", viols)
	if !strings.Contains(rec.msg, "drivers") || !strings.Contains(rec.msg, "store.go") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}
