package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
	stringpool "github.com/ajitpratap0/pgexport/pkg/strings"
)

// TableCursor pages through the rows of one table as text records.
//
// Unlike TableNameStream the total is re-read on every page from a window
// count, so rows inserted or deleted during the export move the end of the
// stream. Pages are not taken from a common snapshot.
type TableCursor struct {
	conn   Conn
	table  TableName
	header []string
	query  string
	pager  pager
	page   []Record
	logger *zap.Logger
}

// NewTableCursor discovers the columns of table, builds its page query and
// fetches the first page. The cursor holds a leased connection until Close;
// on error nothing stays leased.
func NewTableCursor(ctx context.Context, pool Pool, table TableName, opts Options) (*TableCursor, error) {
	opts = opts.withDefaults()

	if err := stringpool.ValidateIdentifier(table.Schema); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid schema name").
			WithDetail("table", table.String())
	}
	if err := stringpool.ValidateIdentifier(table.Name); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid table name").
			WithDetail("table", table.String())
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	header, err := Columns(ctx, conn, table)
	if err != nil {
		conn.Release()
		return nil, err
	}
	for _, column := range header {
		if err := stringpool.ValidateIdentifier(column); err != nil {
			conn.Release()
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "invalid column name").
				WithDetail("table", table.String())
		}
	}

	c := &TableCursor{
		conn:   conn,
		table:  table,
		header: header,
		query:  buildPageQuery(table, header),
		pager:  pager{limit: int64(opts.PageSize)},
		logger: opts.Logger.With(zap.String("component", "table-cursor"), zap.String("table", table.String())),
	}
	c.logger.Debug("built page query",
		zap.String("query", c.query),
		zap.Int("columns", len(header)))

	if err := c.fetch(ctx, 0); err != nil {
		conn.Release()
		return nil, err
	}

	return c, nil
}

func (c *TableCursor) fetch(ctx context.Context, offset int64) error {
	return fetchPage(ctx, metrics.StreamRows, offset, func() (int, error) {
		rows, err := c.conn.Query(ctx, c.query, offset, c.pager.limit)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute page query").
				WithDetail("table", c.table.String()).
				WithDetail("offset", offset)
		}
		defer rows.Close()

		n := len(c.header)
		var (
			sentinel any
			total    int64
		)
		dest := make([]any, n+2)
		dest[n] = &sentinel
		dest[n+1] = &total

		records := make([]Record, 0, c.pager.limit)
		for rows.Next() {
			record := make(Record, n)
			for i := range record {
				dest[i] = &record[i]
			}
			if err := rows.Scan(dest...); err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeDecode, "failed to decode row").
					WithDetail("table", c.table.String()).
					WithDetail("offset", offset)
			}
			records = append(records, record)
		}
		if err := rows.Err(); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating page rows").
				WithDetail("table", c.table.String()).
				WithDetail("offset", offset)
		}

		// An empty page carries no window column: the observed total is 0.
		c.pager.offset = offset
		c.pager.total = total
		c.page = records
		return len(records), nil
	})
}

// Advance fetches the next page and refreshes the total. It returns false
// without querying once the stream is exhausted, and false when a fetched
// page comes back empty.
func (c *TableCursor) Advance(ctx context.Context) (bool, error) {
	next, ok := c.pager.next()
	if !ok {
		c.page = nil
		return false, nil
	}

	if err := c.fetch(ctx, next); err != nil {
		c.page = nil
		return false, err
	}

	if len(c.page) == 0 {
		c.pager.done = true
		return false, nil
	}
	return true, nil
}

// Header returns the column names in the order fields appear in records.
func (c *TableCursor) Header() []string {
	header := make([]string, len(c.header))
	copy(header, c.header)
	return header
}

// TakePage returns the current page and clears it.
func (c *TableCursor) TakePage() Page[Record] {
	p := Page[Record]{
		Offset: c.pager.offset,
		Limit:  c.pager.limit,
		Total:  c.pager.total,
		Rows:   c.page,
	}
	c.page = nil
	return p
}

// Total returns the total observed with the most recent page
func (c *TableCursor) Total() int64 {
	return c.pager.total
}

// Offset returns the offset of the current page
func (c *TableCursor) Offset() int64 {
	return c.pager.offset
}

// Table returns the table the cursor reads
func (c *TableCursor) Table() TableName {
	return c.table
}

// Close releases the cursor's connection. It is safe to call more than once.
func (c *TableCursor) Close() {
	if c.conn != nil {
		c.conn.Release()
		c.conn = nil
	}
}
