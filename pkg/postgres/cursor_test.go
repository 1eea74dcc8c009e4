package postgres_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/postgres"
	"github.com/ajitpratap0/pgexport/pkg/postgres/pgtest"
)

func opts(t *testing.T, pageSize int) postgres.Options {
	return postgres.Options{PageSize: pageSize, Logger: zaptest.NewLogger(t)}
}

func public(name string) postgres.TableName {
	return postgres.TableName{Schema: "public", Name: name, Visible: true}
}

func numberedRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i + 1), fmt.Sprintf("row-%d", i+1)}
	}
	return rows
}

// drain collects every page of c, asserting the offset step between pages.
func drain(t *testing.T, ctx context.Context, c *postgres.TableCursor) ([]postgres.Page[postgres.Record], int) {
	t.Helper()
	pages := []postgres.Page[postgres.Record]{c.TakePage()}
	rows := len(pages[0].Rows)
	for {
		more, err := c.Advance(ctx)
		require.NoError(t, err)
		if !more {
			break
		}
		p := c.TakePage()
		prev := pages[len(pages)-1]
		assert.Equal(t, prev.Offset+prev.Limit, p.Offset)
		pages = append(pages, p)
		rows += len(p.Rows)
	}
	return pages, rows
}

func TestTableCursorTwoRowScenario(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(2)
	db.AddTable("t", "alice", []string{"id", "name"},
		[]any{int64(1), "a"},
		[]any{int64(2), nil},
	)

	c, err := postgres.NewTableCursor(ctx, db, public("t"), opts(t, 1))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"id", "name"}, c.Header())

	p0 := c.TakePage()
	assert.Equal(t, int64(0), p0.Offset)
	assert.Equal(t, int64(2), p0.Total)
	assert.Equal(t, []postgres.Record{{"1", "a"}}, p0.Rows)

	more, err := c.Advance(ctx)
	require.NoError(t, err)
	require.True(t, more)

	p1 := c.TakePage()
	assert.Equal(t, int64(1), p1.Offset)
	assert.Equal(t, int64(2), p1.Total)
	assert.Equal(t, []postgres.Record{{"2", ""}}, p1.Rows)

	pageQueries := db.QueryCount("COUNT(*) OVER")
	more, err = c.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Empty(t, c.TakePage().Rows)

	more, err = c.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, pageQueries, db.QueryCount("COUNT(*) OVER"), "exhausted cursor must not query")
}

func TestTableCursorZeroRows(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("empty", "alice", []string{"a", "b", "c"})

	c, err := postgres.NewTableCursor(ctx, db, public("empty"), opts(t, 100))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(0), c.Total())
	assert.Equal(t, []string{"a", "b", "c"}, c.Header())
	assert.Empty(t, c.TakePage().Rows)

	more, err := c.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestTableCursorZeroColumns(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("bare", "alice", nil, []any{}, []any{})

	c, err := postgres.NewTableCursor(ctx, db, public("bare"), opts(t, 1))
	require.NoError(t, err)
	defer c.Close()

	assert.Empty(t, c.Header())
	_, rows := drain(t, ctx, c)
	assert.Equal(t, 2, rows)
}

func TestTableCursorPagesSumToTotal(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("big", "alice", []string{"id", "label"}, numberedRows(250)...)

	c, err := postgres.NewTableCursor(ctx, db, public("big"), opts(t, 100))
	require.NoError(t, err)
	defer c.Close()

	pages, rows := drain(t, ctx, c)
	require.Len(t, pages, 3)
	assert.Equal(t, []int64{0, 100, 200}, []int64{pages[0].Offset, pages[1].Offset, pages[2].Offset})
	assert.Len(t, pages[2].Rows, 50)
	assert.Equal(t, int(c.Total()), rows)
	assert.Equal(t, postgres.Record{"250", "row-250"}, pages[2].Rows[49])
}

func TestTableCursorObservesGrowth(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("growing", "alice", []string{"id", "label"}, numberedRows(150)...)
	db.OnPageQuery(func(table string, offset int64) {
		if offset == 100 {
			db.InsertRows(table, numberedRows(100)...)
		}
	})

	c, err := postgres.NewTableCursor(ctx, db, public("growing"), opts(t, 100))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, int64(150), c.Total())

	pages, rows := drain(t, ctx, c)
	assert.Equal(t, int64(250), pages[1].Total)
	assert.Len(t, pages, 3)
	assert.Equal(t, 250, rows)
}

func TestTableCursorStopsWhenTableShrinks(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("shrinking", "alice", []string{"id", "label"}, numberedRows(150)...)
	db.OnPageQuery(func(table string, offset int64) {
		if offset == 100 {
			db.DeleteRows(table, 100)
		}
	})

	c, err := postgres.NewTableCursor(ctx, db, public("shrinking"), opts(t, 100))
	require.NoError(t, err)
	defer c.Close()

	more, err := c.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, int64(0), c.Total())
	assert.Empty(t, c.TakePage().Rows)
}

func TestTableCursorErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		table    postgres.TableName
		setup    func(db *pgtest.DB)
		wantType errors.ErrorType
	}{
		{
			name:  "decode failure",
			table: public("t"),
			setup: func(db *pgtest.DB) {
				db.AddTable("t", "alice", []string{"id"}, []any{int64(1)})
				db.FailDecode("t")
			},
			wantType: errors.ErrorTypeDecode,
		},
		{
			name:  "query failure",
			table: public("t"),
			setup: func(db *pgtest.DB) {
				db.AddTable("t", "alice", []string{"id"}, []any{int64(1)})
				db.FailPageQuery("t", fmt.Errorf("permission denied for table t"))
			},
			wantType: errors.ErrorTypeQuery,
		},
		{
			name:     "missing table",
			table:    public("nope"),
			setup:    func(*pgtest.DB) {},
			wantType: errors.ErrorTypeQuery,
		},
		{
			name:     "empty name",
			table:    public(""),
			setup:    func(*pgtest.DB) {},
			wantType: errors.ErrorTypeValidation,
		},
		{
			name:     "empty schema",
			table:    postgres.TableName{Name: "t"},
			setup:    func(*pgtest.DB) {},
			wantType: errors.ErrorTypeValidation,
		},
		{
			name:     "NUL in name",
			table:    public("a\x00b"),
			setup:    func(*pgtest.DB) {},
			wantType: errors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := pgtest.New(1)
			tt.setup(db)

			c, err := postgres.NewTableCursor(ctx, db, tt.table, opts(t, 10))
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.IsType(err, tt.wantType), "got %v", err)
			assert.Zero(t, db.Leased(), "connection must be released on failure")
		})
	}
}

func TestTableCursorAdvanceError(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id", "label"}, numberedRows(20)...)
	db.OnPageQuery(func(table string, offset int64) {
		if offset == 10 {
			db.FailDecode(table)
		}
	})

	c, err := postgres.NewTableCursor(ctx, db, public("t"), opts(t, 10))
	require.NoError(t, err)

	more, err := c.Advance(ctx)
	assert.False(t, more)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))

	c.Close()
	c.Close()
	assert.Zero(t, db.Leased())
	assert.Zero(t, db.DoubleReleases())
}

func TestTableCursorHoldsOneLease(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(3)
	db.AddTable("t", "alice", []string{"id", "label"}, numberedRows(5)...)

	c, err := postgres.NewTableCursor(ctx, db, public("t"), opts(t, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, db.Leased())

	drain(t, ctx, c)
	assert.Equal(t, 1, db.Leased())
	assert.Equal(t, 1, db.Acquired())

	c.Close()
	assert.Zero(t, db.Leased())
}

func TestTableCursorHeaderIsACopy(t *testing.T) {
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id", "label"})

	c, err := postgres.NewTableCursor(context.Background(), db, public("t"), opts(t, 2))
	require.NoError(t, err)
	defer c.Close()

	h := c.Header()
	h[0] = "changed"
	assert.Equal(t, []string{"id", "label"}, c.Header())
	assert.Equal(t, public("t"), c.Table())
}

func TestTableCursorReadsQualifiedTable(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id"}, []any{int64(1)})
	db.AddSchemaTable("audit", "t", "alice", []string{"at", "who"},
		[]any{"2024-01-01", "bob"},
		[]any{"2024-01-02", nil},
	)

	c, err := postgres.NewTableCursor(ctx, db, postgres.TableName{Schema: "audit", Name: "t"}, opts(t, 10))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"at", "who"}, c.Header())
	assert.Equal(t, []postgres.Record{{"2024-01-01", "bob"}, {"2024-01-02", ""}}, c.TakePage().Rows)
	assert.Equal(t, 1, db.QueryCount(`FROM "audit"."t") AS paged`))
}

func TestTableCursorStopsAfterFullLastPage(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id", "label"}, numberedRows(2)...)

	c, err := postgres.NewTableCursor(ctx, db, public("t"), opts(t, 2))
	require.NoError(t, err)
	defer c.Close()
	require.Len(t, c.TakePage().Rows, 2)

	db.InsertRows("t", numberedRows(1)...)
	pageQueries := db.QueryCount("COUNT(*) OVER")

	more, err := c.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, pageQueries, db.QueryCount("COUNT(*) OVER"))
}
