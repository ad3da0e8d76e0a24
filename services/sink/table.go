package sink

import "sjsage522/immoworker/internal/crawler"

// Table is the tabular form of a set of records. Cells of unset optional
// attributes are nil.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable builds one row per record, in the given order
func NewTable(records []crawler.Record) *Table {
	t := &Table{Columns: crawler.Columns(), Rows: make([][]any, 0, len(records))}
	for i := range records {
		t.Rows = append(t.Rows, records[i].Values())
	}
	return t
}

// Concat stacks tables in argument order. Nil tables are skipped.
func Concat(tables ...*Table) *Table {
	out := &Table{Columns: crawler.Columns()}
	for _, t := range tables {
		if t == nil {
			continue
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Column returns the index of the named column, or -1
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
