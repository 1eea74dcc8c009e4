package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
)

// TableNameStream pages through the tables owned by one role, across every
// schema.
// The total is counted once at construction and never refreshed.
type TableNameStream struct {
	conn   Conn
	owner  string
	pager  pager
	page   []TableName
	logger *zap.Logger
}

// NewTableNameStream counts the tables owned by owner and fetches the first
// page of names. The stream holds a leased connection until Close.
func NewTableNameStream(ctx context.Context, pool Pool, owner string, opts Options) (*TableNameStream, error) {
	opts = opts.withDefaults()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	s := &TableNameStream{
		conn:   conn,
		owner:  owner,
		pager:  pager{limit: int64(opts.PageSize)},
		logger: opts.Logger.With(zap.String("component", "table-enumerator"), zap.String("owner", owner)),
	}

	if err := conn.QueryRow(ctx, tableCountQuery, owner).Scan(&s.pager.total); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to count tables").
			WithDetail("owner", owner)
	}

	if err := s.fetch(ctx, 0); err != nil {
		conn.Release()
		return nil, err
	}

	s.logger.Debug("counted owned tables", zap.Int64("total", s.pager.total))
	return s, nil
}

func (s *TableNameStream) fetch(ctx context.Context, offset int64) error {
	return fetchPage(ctx, metrics.StreamTables, offset, func() (int, error) {
		rows, err := s.conn.Query(ctx, tableListQuery, s.owner, offset, s.pager.limit)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables").
				WithDetail("owner", s.owner).
				WithDetail("offset", offset)
		}
		defer rows.Close()

		names := make([]TableName, 0, s.pager.limit)
		for rows.Next() {
			var name TableName
			if err := rows.Scan(&name.Schema, &name.Name, &name.Visible); err != nil {
				return 0, errors.Wrap(err, errors.ErrorTypeDecode, "failed to scan table name").
					WithDetail("owner", s.owner)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating table names").
				WithDetail("owner", s.owner)
		}

		s.pager.offset = offset
		s.page = names
		return len(names), nil
	})
}

// Advance fetches the next page. It returns false without querying once the
// stream is exhausted, and false when a fetched page comes back empty.
func (s *TableNameStream) Advance(ctx context.Context) (bool, error) {
	next, ok := s.pager.next()
	if !ok {
		s.page = nil
		return false, nil
	}

	if err := s.fetch(ctx, next); err != nil {
		s.page = nil
		return false, err
	}

	if len(s.page) == 0 {
		s.pager.done = true
		return false, nil
	}
	return true, nil
}

// TakePage returns the current page and clears it.
func (s *TableNameStream) TakePage() Page[TableName] {
	p := Page[TableName]{
		Offset: s.pager.offset,
		Limit:  s.pager.limit,
		Total:  s.pager.total,
		Rows:   s.page,
	}
	s.page = nil
	return p
}

// Total returns the table count taken at construction
func (s *TableNameStream) Total() int64 {
	return s.pager.total
}

// Offset returns the offset of the current page
func (s *TableNameStream) Offset() int64 {
	return s.pager.offset
}

// Close releases the stream's connection. It is safe to call more than once.
func (s *TableNameStream) Close() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

// ListTables drains a TableNameStream for owner and returns every table.
func ListTables(ctx context.Context, pool Pool, owner string, opts Options) ([]TableName, error) {
	stream, err := NewTableNameStream(ctx, pool, owner, opts)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	names := make([]TableName, 0, stream.Total())
	names = append(names, stream.TakePage().Rows...)
	for {
		more, err := stream.Advance(ctx)
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
		names = append(names, stream.TakePage().Rows...)
	}
	return names, nil
}
