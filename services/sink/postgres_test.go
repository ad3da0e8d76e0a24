package sink

import (
	"context"
	"os"
	"strings"
	"testing"

	"sjsage522/immoworker/internal/crawler"

	"github.com/stretchr/testify/assert"
)

func TestCreateTableSQL(t *testing.T) {
	stmt := createTableSQL(crawler.Columns())
	assert.Contains(t, stmt, "CREATE TABLE IF NOT EXISTS listings")
	assert.Contains(t, stmt, "id BIGINT PRIMARY KEY")
	assert.Contains(t, stmt, "price DOUBLE PRECISION")
	assert.Contains(t, stmt, "bedroom_count INTEGER")
	assert.Contains(t, stmt, "hammam BOOLEAN")
	assert.Contains(t, stmt, "locality TEXT")
	assert.Contains(t, stmt, "scraped_at TIMESTAMPTZ")
}

func TestUpsertSQL(t *testing.T) {
	columns := []string{"id", "url", "price"}
	rows := [][]any{
		{int64(1), "u1", 10.0},
		{int64(2), "u2", nil},
	}

	query, args := upsertSQL(columns, rows)
	assert.Contains(t, query, "INSERT INTO listings (id, url, price) VALUES ($1,$2,$3),($4,$5,$6)")
	assert.Contains(t, query, "ON CONFLICT (id) DO UPDATE SET url = EXCLUDED.url, price = EXCLUDED.price, scraped_at = NOW()")
	assert.False(t, strings.Contains(query, "id = EXCLUDED.id"))
	assert.Equal(t, []any{int64(1), "u1", 10.0, int64(2), "u2", nil}, args)
}

func TestDedupeByIDKeepsLast(t *testing.T) {
	table := &Table{
		Columns: []string{"id", "url"},
		Rows: [][]any{
			{int64(1), "first"},
			{int64(2), "other"},
			{int64(1), "second"},
		},
	}

	rows := dedupeByID(table)
	assert.Equal(t, [][]any{{int64(2), "other"}, {int64(1), "second"}}, rows)
}

func TestPostgresWriter(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN is not set, skipping test")
	}

	ctx := context.Background()
	w, err := NewPostgresWriter(ctx, dsn, crawler.Columns())
	if !assert.NoError(t, err) {
		return
	}
	defer w.Close()

	_, err = w.db.ExecContext(ctx, "DELETE FROM listings")
	assert.NoError(t, err)

	assert.NoError(t, w.Write(ctx, NewTable(sampleRecords())))
	assert.NoError(t, w.Write(ctx, NewTable(sampleRecords())))

	n, err := w.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
