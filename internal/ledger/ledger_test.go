package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrollsync/pkg/domain"
)

func rec(batch string) domain.Record {
	return domain.Record{Values: domain.Row{"2024", batch}, Author: "op", CreatedAt: time.Unix(0, 0)}
}

func TestAppendPreservesOrderPerModule(t *testing.T) {
	l := New()
	l.Append(domain.ModuleGBAUpdate, rec("B1"))
	l.Append(domain.ModuleGBAUpdate, rec("B2"))
	l.Append(domain.ModuleLUCUpdate, rec("L1"))

	snap := l.Snapshot()
	require.Len(t, snap.Records(domain.ModuleGBAUpdate), 2)
	assert.Equal(t, "B1", snap.Records(domain.ModuleGBAUpdate)[0].Values[1])
	assert.Equal(t, "B2", snap.Records(domain.ModuleGBAUpdate)[1].Values[1])
	assert.Equal(t, 3, snap.Total())
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, 1, l.Count(domain.ModuleLUCUpdate))
	assert.Equal(t, 0, l.Count(domain.ModuleValueUpdate))
}

func TestSnapshotIsIsolated(t *testing.T) {
	l := New()
	r := rec("B1")
	l.Append(domain.ModuleValueUpdate, r)
	r.Values[1] = "mutated by caller"

	snap := l.Snapshot()
	snap[domain.ModuleValueUpdate][0].Values[1] = "mutated by reader"
	snap[domain.ModuleLUCUpdate] = []domain.Record{rec("X")}

	again := l.Snapshot()
	assert.Equal(t, "B1", again.Records(domain.ModuleValueUpdate)[0].Values[1])
	assert.Empty(t, again.Records(domain.ModuleLUCUpdate))
}

func TestClearIsIdempotent(t *testing.T) {
	var l Ledger
	assert.True(t, l.Empty())
	l.Clear()
	l.Append(domain.ModuleLandsizeUpdate, rec("B1"))
	assert.False(t, l.Empty())
	for i := 0; i < 3; i++ {
		l.Clear()
		assert.True(t, l.Empty())
		snap := l.Snapshot()
		for _, m := range domain.DefaultCatalog().Modules() {
			assert.Empty(t, snap.Records(m))
		}
	}
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	l := New()
	modules := domain.DefaultCatalog().Modules()
	const perModule = 200
	var wg sync.WaitGroup
	for _, m := range modules {
		wg.Add(1)
		go func(m domain.ModuleID) {
			defer wg.Done()
			for i := 0; i < perModule; i++ {
				l.Append(m, rec("B"))
			}
		}(m)
	}
	wg.Wait()
	assert.Equal(t, perModule*len(modules), l.Len())
	for _, m := range modules {
		assert.Equal(t, perModule, l.Count(m))
	}
}
