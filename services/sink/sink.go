package sink

import "context"

// Sink is any destination the combined table of a run is written to
type Sink interface {
	// Name identifies the sink in logs
	Name() string

	// Write stores the table
	Write(ctx context.Context, t *Table) error

	// Close releases the sink
	Close() error
}
