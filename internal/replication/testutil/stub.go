// Package testutil provides a stub database/sql driver for replica tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq atomic.Uint64

// StubConn records inserts for a single simulated replica.
type StubConn struct {
	mu         sync.Mutex
	execs      []string
	tables     map[string][]map[string]any
	FailOpen   bool
	FailBegin  bool
	FailExec   bool
	FailCommit bool
	// Hang blocks Exec until the context is done.
	Hang       bool
	FailTables map[string]bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubreplica%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// SetFailOpen toggles connection failures, simulating an unreachable replica.
func (c *StubConn) SetFailOpen(v bool) {
	c.mu.Lock()
	c.FailOpen = v
	c.mu.Unlock()
}

// Rows returns a copy of the rows inserted into table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.tables[normalize(table)]
	out := make([]map[string]any, len(src))
	for i, r := range src {
		cp := make(map[string]any, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// Execs returns every statement text seen by the connection.
func (c *StubConn) Execs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	d.conn.mu.Lock()
	fail := d.conn.FailOpen
	d.conn.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}
	return &stubSession{conn: d.conn}, nil
}

// stubSession is one driver connection; pending inserts become visible on commit.
type stubSession struct {
	conn    *StubConn
	pending []pendingRow
}

type pendingRow struct {
	table string
	row   map[string]any
}

func (s *stubSession) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubSession) Close() error { return nil }

func (s *stubSession) Begin() (driver.Tx, error) {
	return s.BeginTx(context.Background(), driver.TxOptions{})
}

func (s *stubSession) Ping(_ context.Context) error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.conn.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (s *stubSession) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.conn.FailOpen {
		return nil, fmt.Errorf("connection reset by peer")
	}
	if s.conn.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	s.pending = nil
	return &stubTx{session: s}, nil
}

func (s *stubSession) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	s.conn.mu.Lock()
	s.conn.execs = append(s.conn.execs, query)
	hang, failExec, failTables := s.conn.Hang, s.conn.FailExec, s.conn.FailTables
	s.conn.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failExec {
		return nil, fmt.Errorf("exec fail")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if failTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	s.pending = append(s.pending, pendingRow{table: table, row: row})
	return driver.RowsAffected(1), nil
}

type stubTx struct {
	session *stubSession
}

func (t *stubTx) Commit() error {
	c := t.session.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailCommit {
		t.session.pending = nil
		return fmt.Errorf("commit fail")
	}
	for _, p := range t.session.pending {
		c.tables[p.table] = append(c.tables[p.table], p.row)
	}
	t.session.pending = nil
	return nil
}

func (t *stubTx) Rollback() error {
	t.session.pending = nil
	return nil
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := normalize(rest[:open])
	parts := strings.Split(rest[open+1:closeIdx], ",")
	cols := make([]string, 0, len(parts))
	for _, part := range parts {
		cols = append(cols, normalize(part))
	}
	return table, cols, nil
}

func normalize(ident string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(ident), `"[]`))
}
