package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sjsage522/immoworker/pkg/errors"

	_ "github.com/lib/pq"
)

const (
	listingsTable   = "listings"
	upsertBatchSize = 50
)

// columnTypes maps record columns to their SQL type; unlisted columns are TEXT
var columnTypes = map[string]string{
	"id":                "BIGINT PRIMARY KEY",
	"url":               "TEXT NOT NULL",
	"price":             "DOUBLE PRECISION",
	"bedroom_count":     "INTEGER",
	"bathroom_count":    "INTEGER",
	"showerroom_count":  "INTEGER",
	"facades":           "INTEGER",
	"construction_year": "INTEGER",
	"living_surface":    "DOUBLE PRECISION",
	"garden_surface":    "DOUBLE PRECISION",
	"terrace_surface":   "DOUBLE PRECISION",
	"attic":             "BOOLEAN",
	"basement":          "BOOLEAN",
	"swimming_pool":     "BOOLEAN",
	"fireplace":         "BOOLEAN",
	"fitness_room":      "BOOLEAN",
	"tennis_court":      "BOOLEAN",
	"sauna":             "BOOLEAN",
	"jacuzzi":           "BOOLEAN",
	"hammam":            "BOOLEAN",
}

// PostgresWriter upserts listings into PostgreSQL, keyed by listing id
type PostgresWriter struct {
	db *sql.DB
}

var _ Sink = (*PostgresWriter)(nil)

// NewPostgresWriter opens a connection, waits for the server and migrates
// the listings table.
func NewPostgresWriter(ctx context.Context, dsn string, columns []string) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.NewSink("postgres", "open", err)
	}

	for i := 0; i < 5; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, errors.NewSink("postgres", "ping failed after retries", err)
	}

	pw := &PostgresWriter{db: db}
	if _, err := db.ExecContext(ctx, createTableSQL(columns)); err != nil {
		_ = db.Close()
		return nil, errors.NewSink("postgres", "migrate", err)
	}
	return pw, nil
}

func (pw *PostgresWriter) Name() string {
	return "postgres"
}

func createTableSQL(columns []string) string {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		typ, ok := columnTypes[c]
		if !ok {
			typ = "TEXT"
		}
		defs = append(defs, fmt.Sprintf("%s %s", c, typ))
	}
	defs = append(defs, "scraped_at TIMESTAMPTZ NOT NULL DEFAULT NOW()")

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);\n"+
		"CREATE INDEX IF NOT EXISTS idx_%s_locality ON %s(locality);\n"+
		"CREATE INDEX IF NOT EXISTS idx_%s_price ON %s(price);",
		listingsTable, strings.Join(defs, ",\n\t"),
		listingsTable, listingsTable, listingsTable, listingsTable)
}

// Write upserts the rows in batches. A listing seen again replaces its row.
func (pw *PostgresWriter) Write(ctx context.Context, t *Table) error {
	rows := dedupeByID(t)
	if len(rows) == 0 {
		return nil
	}

	for i := 0; i < len(rows); i += upsertBatchSize {
		end := i + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		query, args := upsertSQL(t.Columns, rows[i:end])
		if _, err := pw.db.ExecContext(ctx, query, args...); err != nil {
			return errors.NewSink("postgres", fmt.Sprintf("upsert rows %d-%d", i, end-1), err)
		}
	}
	return nil
}

// dedupeByID keeps the last row of every id; one upsert statement cannot
// touch the same row twice.
func dedupeByID(t *Table) [][]any {
	idCol := t.Column("id")
	if idCol < 0 {
		return t.Rows
	}

	last := make(map[any]int, len(t.Rows))
	for i, row := range t.Rows {
		last[row[idCol]] = i
	}

	rows := make([][]any, 0, len(last))
	for i, row := range t.Rows {
		if last[row[idCol]] == i {
			rows = append(rows, row)
		}
	}
	return rows
}

func upsertSQL(columns []string, rows [][]any) (string, []any) {
	n := len(columns)
	valueStrings := make([]string, 0, len(rows))
	valueArgs := make([]any, 0, len(rows)*n)

	for idx, row := range rows {
		placeholders := make([]string, n)
		for c := 0; c < n; c++ {
			placeholders[c] = fmt.Sprintf("$%d", idx*n+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs, row[:n]...)
	}

	updates := make([]string, 0, n)
	for _, c := range columns {
		if c == "id" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	updates = append(updates, "scraped_at = NOW()")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (id) DO UPDATE SET %s",
		listingsTable,
		strings.Join(columns, ", "),
		strings.Join(valueStrings, ","),
		strings.Join(updates, ", "))
	return query, valueArgs
}

// Count returns the number of stored listings
func (pw *PostgresWriter) Count(ctx context.Context) (int, error) {
	var n int
	if err := pw.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+listingsTable).Scan(&n); err != nil {
		return 0, errors.NewSink("postgres", "count", err)
	}
	return n, nil
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
