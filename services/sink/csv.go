package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"sjsage522/immoworker/pkg/errors"
)

// CSVWriter writes the table of a run to a CSV file, replacing the previous
// content. It is safe for concurrent use.
type CSVWriter struct {
	mu   sync.Mutex
	path string
}

var _ Sink = (*CSVWriter)(nil)

// NewCSVWriter prepares the output directory of path
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewSink(path, "create output dir", err)
	}
	return &CSVWriter{path: path}, nil
}

func (c *CSVWriter) Name() string {
	return "csv"
}

// Write truncates the file and writes the header and every row
func (c *CSVWriter) Write(_ context.Context, t *Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Create(c.path)
	if err != nil {
		return errors.NewSink(c.path, "create file", err)
	}

	if err := WriteCSV(f, t); err != nil {
		_ = f.Close()
		return errors.NewSink(c.path, "write rows", err)
	}
	if err := f.Close(); err != nil {
		return errors.NewSink(c.path, "close file", err)
	}
	return nil
}

// Close is a no-op; every Write closes its file
func (c *CSVWriter) Close() error {
	return nil
}

// WriteCSV renders the table as CSV with a header row
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("csv: write header: %w", err)
	}

	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatCell(row[i])
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatCell(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
