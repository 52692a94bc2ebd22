// Package ledger holds the records accepted during one operator session.
package ledger

import (
	"sync"

	"taxrollsync/pkg/domain"
)

// Snapshot is an independent copy of the ledger keyed by module.
type Snapshot map[domain.ModuleID][]domain.Record

// Records returns the records held for module.
func (s Snapshot) Records(module domain.ModuleID) []domain.Record { return s[module] }

// Total returns the record count across all modules.
func (s Snapshot) Total() int {
	n := 0
	for _, recs := range s {
		n += len(recs)
	}
	return n
}

// Ledger is an append-only, insertion-ordered record store. The zero value is
// ready to use and safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries map[domain.ModuleID][]domain.Record
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[domain.ModuleID][]domain.Record)}
}

// Append records rec under module. The ledger keeps its own copy.
func (l *Ledger) Append(module domain.ModuleID, rec domain.Record) {
	cp := rec.Clone()
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[domain.ModuleID][]domain.Record)
	}
	l.entries[module] = append(l.entries[module], cp)
	l.mu.Unlock()
}

// Snapshot returns a deep copy; modules without records are omitted.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(Snapshot, len(l.entries))
	for module, recs := range l.entries {
		if len(recs) == 0 {
			continue
		}
		cp := make([]domain.Record, len(recs))
		for i, r := range recs {
			cp[i] = r.Clone()
		}
		out[module] = cp
	}
	return out
}

// Clear drops every record. Calling it on an empty ledger is a no-op.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.entries = make(map[domain.ModuleID][]domain.Record)
	l.mu.Unlock()
}

// Count returns the number of records held for module.
func (l *Ledger) Count(module domain.ModuleID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[module])
}

// Len returns the record count across all modules.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, recs := range l.entries {
		n += len(recs)
	}
	return n
}

// Empty reports whether the ledger holds no records.
func (l *Ledger) Empty() bool { return l.Len() == 0 }
