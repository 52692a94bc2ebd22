package replication

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrollsync/internal/replication/testutil"
	"taxrollsync/pkg/domain"
)

type fakeTarget struct {
	name  string
	err   error
	panic bool
	mu    sync.Mutex
	calls int
}

func (f *fakeTarget) Name() string { return f.name }
func (f *fakeTarget) Close() error { return nil }
func (f *fakeTarget) Write(ctx context.Context, _ Statement, _ []any) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	return f.err
}

type recordingObserver struct {
	mu    sync.Mutex
	calls map[string]error
}

func (r *recordingObserver) ObserveTargetWrite(target string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]error{}
	}
	r.calls[target] = err
}

func TestCoordinatorCountsSuccessesAndIsolatesFailures(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			errDown := errors.New("unreachable")
			a := &fakeTarget{name: "a", err: errDown}
			b := &fakeTarget{name: "b"}
			c := &fakeTarget{name: "c", panic: true}
			obs := &recordingObserver{}
			coord, err := NewCoordinator([]Target{a, b, c}, WithParallel(parallel), WithObserver(obs))
			require.NoError(t, err)

			out := coord.Write(context.Background(), Statement{Table: "t"}, nil)
			assert.Equal(t, 1, out.Succeeded)
			assert.Equal(t, 3, out.Total())
			assert.Equal(t, []string{"a", "b", "c"}, []string{out.Attempts[0].Target, out.Attempts[1].Target, out.Attempts[2].Target})
			assert.Equal(t, 1, a.calls)
			assert.Equal(t, 1, b.calls)
			assert.Equal(t, 1, c.calls)

			var partial *PartialWriteFailure
			require.True(t, errors.As(out.Err(), &partial))
			assert.Len(t, partial.Failed, 2)
			assert.True(t, errors.Is(out.Err(), errDown))
			assert.Len(t, obs.calls, 3)
		})
	}
}

func TestOutcomeErrAndPolicies(t *testing.T) {
	all := Outcome{Attempts: []Attempt{{Target: "a"}, {Target: "b"}}, Succeeded: 2}
	none := Outcome{Attempts: []Attempt{{Target: "a", Err: errors.New("x")}, {Target: "b", Err: errors.New("y")}}}
	half := Outcome{Attempts: []Attempt{{Target: "a", Err: errors.New("x")}, {Target: "b"}}, Succeeded: 1}

	assert.NoError(t, all.Err())
	var wf *WriteFailure
	assert.True(t, errors.As(none.Err(), &wf))
	var pf *PartialWriteFailure
	assert.True(t, errors.As(half.Err(), &pf))
	assert.Contains(t, pf.Error(), "1 of 2")

	assert.True(t, AcceptIfAny.Accepts(all))
	assert.True(t, AcceptIfAny.Accepts(half))
	assert.False(t, AcceptIfAny.Accepts(none))
	assert.True(t, AcceptIfAll.Accepts(all))
	assert.False(t, AcceptIfAll.Accepts(half))
	assert.False(t, AcceptIfAll.Accepts(Outcome{}))

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, AcceptIfAny, p)
	p, err = ParsePolicy(" Accept-If-All ")
	require.NoError(t, err)
	assert.Equal(t, AcceptIfAll, p)
	_, err = ParsePolicy("quorum")
	assert.Error(t, err)
}

func TestNewCoordinatorRequiresTargets(t *testing.T) {
	_, err := NewCoordinator(nil)
	assert.Error(t, err)
}

func stubTargets(t *testing.T, n int) ([]Target, []*testutil.StubConn) {
	t.Helper()
	dbs := make(map[string]*sql.DB, n)
	conns := make([]*testutil.StubConn, n)
	descs := make([]Descriptor, n)
	for i := 0; i < n; i++ {
		db, conn := testutil.NewStubDB()
		key := fmt.Sprintf("replica%d", i)
		dbs[key] = db
		conns[i] = conn
		descs[i] = Descriptor{Name: key, Driver: DriverSQLServer, DSN: key}
	}
	restore := OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		db, ok := dbs[dsn]
		if !ok {
			return nil, fmt.Errorf("unknown dsn %s", dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	targets, err := OpenTargets(descs)
	require.NoError(t, err)
	t.Cleanup(func() { CloseTargets(targets) })
	return targets, conns
}

func TestCoordinatorScenarioOneTargetUnreachable(t *testing.T) {
	targets, conns := stubTargets(t, 2)
	conns[1].SetFailOpen(true)
	coord, err := NewCoordinator(targets)
	require.NoError(t, err)

	schema, err := domain.DefaultCatalog().Lookup(domain.ModuleLandsizeUpdate)
	require.NoError(t, err)
	rec := domain.Record{Values: domain.Row{"2024", "1", "A", 10.0, "B1"}, Author: "op", CreatedAt: time.Now()}
	out := coord.Write(context.Background(), InsertFor(schema), rec.Args())

	assert.Equal(t, 1, out.Succeeded)
	assert.True(t, AcceptIfAny.Accepts(out))
	rows := conns[0].Rows(schema.Table)
	require.Len(t, rows, 1)
	assert.Equal(t, 10.0, rows[0]["landsqft"])
	assert.Equal(t, "op", rows[0]["createdby"])
	assert.Empty(t, conns[1].Rows(schema.Table))
	assert.Contains(t, conns[0].Execs()[0], "@p7")
}

func TestCoordinatorBoundsHungTargets(t *testing.T) {
	targets, conns := stubTargets(t, 2)
	conns[0].Hang = true
	coord, err := NewCoordinator(targets, WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	out := coord.Write(context.Background(), Statement{Table: "t", Columns: []string{"a"}}, []any{"x"})
	assert.Equal(t, 1, out.Succeeded)
	assert.True(t, errors.Is(out.Attempts[0].Err, context.DeadlineExceeded))
	assert.Len(t, conns[1].Rows("t"), 1)
}

func TestSQLTargetCommitFailureDiscardsRow(t *testing.T) {
	targets, conns := stubTargets(t, 1)
	conns[0].FailCommit = true
	err := targets[0].Write(context.Background(), Statement{Table: "t", Columns: []string{"a"}}, []any{"x"})
	assert.ErrorContains(t, err, "commit")
	assert.Empty(t, conns[0].Rows("t"))

	err = targets[0].Write(context.Background(), Statement{Table: "t", Columns: []string{"a", "b"}}, []any{"x"})
	assert.ErrorContains(t, err, "2 columns but 1 values")
}
