package replication

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"   // register pgx as a database/sql driver
	_ "github.com/lib/pq"                // register "postgres"
	_ "github.com/microsoft/go-mssqldb" // register "sqlserver"
	_ "modernc.org/sqlite"               // pure go sqlite driver
)

// Target is one independent replica.
type Target interface {
	Name() string
	// Write executes stmt with args in its own transaction and commits it.
	Write(ctx context.Context, stmt Statement, args []any) error
	Close() error
}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// SQLTarget writes to a database/sql replica. Each Write acquires a dedicated
// connection, runs a single-statement transaction, commits, and releases the
// connection back to the pool.
type SQLTarget struct {
	desc    Descriptor
	dialect Dialect

	mu sync.Mutex
	db *sql.DB
}

// NewSQLTarget validates desc and returns a lazily connected target.
func NewSQLTarget(desc Descriptor) (*SQLTarget, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	dialect, err := DialectFor(desc.Driver)
	if err != nil {
		return nil, err
	}
	return &SQLTarget{desc: desc, dialect: dialect}, nil
}

// OpenTargets builds a SQLTarget for each descriptor.
func OpenTargets(descs []Descriptor) ([]Target, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("at least one write target required")
	}
	seen := make(map[string]struct{}, len(descs))
	out := make([]Target, 0, len(descs))
	for _, d := range descs {
		if _, dup := seen[d.Label()]; dup {
			return nil, fmt.Errorf("duplicate write target %s", d.Label())
		}
		seen[d.Label()] = struct{}{}
		t, err := NewSQLTarget(d)
		if err != nil {
			CloseTargets(out)
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CloseTargets releases every target, ignoring errors.
func CloseTargets(targets []Target) {
	for _, t := range targets {
		_ = t.Close()
	}
}

// Name returns the descriptor label.
func (t *SQLTarget) Name() string { return t.desc.Label() }

// Descriptor returns the target's descriptor.
func (t *SQLTarget) Descriptor() Descriptor { return t.desc }

// Dialect returns the SQL dialect used when rendering statements.
func (t *SQLTarget) Dialect() Dialect { return t.dialect }

func (t *SQLTarget) pool() (*sql.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db != nil {
		return t.db, nil
	}
	openMu.Lock()
	db, err := sqlOpen(string(t.desc.Driver), t.desc.ConnString())
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", t.desc.Driver, err)
	}
	t.db = db
	return db, nil
}

// Write implements Target.
func (t *SQLTarget) Write(ctx context.Context, stmt Statement, args []any) error {
	if len(stmt.Columns) != len(args) {
		return fmt.Errorf("%s: %d columns but %d values", stmt.Table, len(stmt.Columns), len(args))
	}
	db, err := t.pool()
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, stmt.Render(t.dialect), args...); err != nil {
		return fmt.Errorf("insert %s: %w", stmt.Table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Ping verifies the replica is reachable.
func (t *SQLTarget) Ping(ctx context.Context) error {
	db, err := t.pool()
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", t.Name(), err)
	}
	return nil
}

// ApplySchema creates the module tables on the replica when missing.
func (t *SQLTarget) ApplySchema(ctx context.Context, ddl string) error {
	db, err := t.pool()
	if err != nil {
		return err
	}
	for _, stmt := range SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl on %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (t *SQLTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
