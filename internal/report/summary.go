// Package report turns a ledger snapshot into the session workbook, the
// batch summary, and the notification message that carries them.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"taxrollsync/internal/ledger"
	"taxrollsync/pkg/domain"
)

// ModuleSummary describes the records one module contributed to a session.
type ModuleSummary struct {
	Module   domain.ModuleID
	Records  int
	HasBatch bool
	Batches  []string
}

// Summary aggregates a snapshot across modules.
type Summary struct {
	Modules []ModuleSummary
	Records int
	// Batches is the sorted union of every module's distinct batches.
	Batches []string
}

// Summarize counts records and distinct batches per module in catalog order.
// Modules without records are omitted.
func Summarize(snap ledger.Snapshot, catalog *domain.Catalog) Summary {
	var out Summary
	total := make(map[string]struct{})
	for _, schema := range catalog.Schemas() {
		recs := snap.Records(schema.Module)
		if len(recs) == 0 {
			continue
		}
		ms := ModuleSummary{Module: schema.Module, Records: len(recs)}
		if idx, ok := schema.BatchIndex(); ok {
			ms.HasBatch = true
			seen := make(map[string]struct{})
			for _, r := range recs {
				b := batchValue(r.Values, idx)
				if b == "" {
					continue
				}
				seen[b] = struct{}{}
				total[b] = struct{}{}
			}
			ms.Batches = sortedKeys(seen)
		}
		out.Modules = append(out.Modules, ms)
		out.Records += ms.Records
	}
	out.Batches = sortedKeys(total)
	return out
}

func batchValue(row domain.Row, idx int) string {
	if idx >= len(row) || row[idx] == nil {
		return ""
	}
	switch v := row[idx].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
