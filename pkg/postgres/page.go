package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
	"github.com/ajitpratap0/pgexport/pkg/observability"
)

// TableName is a table qualified by its schema.
type TableName struct {
	Schema string
	Name   string
	// Visible is set when search_path resolves the bare Name to this table.
	Visible bool
}

// String returns the bare name for a visible table and schema.name for any
// other. Within one catalog the result is unique except when a visible
// table is itself named like schema.name.
func (t TableName) String() string {
	if t.Visible {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Record is one table row: one text field per column, in header order.
// NULL and the empty string both appear as "".
type Record []string

// Page is one OFFSET/LIMIT window of a stream together with the total that
// was observed when it was fetched.
type Page[T any] struct {
	Offset int64
	Limit  int64
	Total  int64
	Rows   []T
}

// Options tunes a stream.
type Options struct {
	// PageSize is the LIMIT of every page query; zero means 100
	PageSize int
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = config.DefaultPageSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// pager holds the offset/total bookkeeping shared by both streams.
type pager struct {
	offset int64
	limit  int64
	total  int64
	done   bool
}

// next returns the offset of the following page, or false once the stream
// is exhausted. Exhaustion is judged against the last observed total.
// A table that grows while its last page is exactly full is not read again.
func (p *pager) next() (int64, bool) {
	if p.done {
		return 0, false
	}
	next := p.offset + p.limit
	if next >= p.total {
		p.done = true
		return 0, false
	}
	return next, true
}

// fetchPage runs fn under a page span and records page metrics. fn returns
// the number of rows it read.
func fetchPage(ctx context.Context, stream string, offset int64, fn func() (int, error)) error {
	timer := metrics.NewTimer()
	err := observability.TracePage(ctx, stream, offset, fn)
	metrics.PageLatency.WithLabelValues(stream).Observe(timer.Stop().Seconds())
	if err == nil {
		metrics.PagesFetched.WithLabelValues(stream).Inc()
	}
	return err
}
