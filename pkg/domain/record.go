package domain

import "time"

// Row is an ordered sequence of sanitized cell values. Each element is nil,
// a string, or a finite float64.
type Row []any

// Clone returns a copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Record is a sanitized row plus the audit fields stamped at write time.
type Record struct {
	Values    Row       `json:"values"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Args returns the positional insert arguments: values, author, created timestamp.
func (r Record) Args() []any {
	out := make([]any, 0, len(r.Values)+2)
	out = append(out, r.Values...)
	return append(out, r.Author, r.CreatedAt)
}

// ArgsFor returns the insert arguments for a schema of n columns: the first n
// values, padded with nil, then author and created timestamp. Values past n
// stay on the record but are not bound.
func (r Record) ArgsFor(n int) []any {
	out := make([]any, n, n+2)
	copy(out, r.Values)
	return append(out, r.Author, r.CreatedAt)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Values = r.Values.Clone()
	return r
}
