package postgres_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pgexport/pkg/postgres"
	"github.com/ajitpratap0/pgexport/pkg/postgres/pgtest"
)

const countQuery = "COUNT(*) FROM pg_catalog.pg_tables"

func addTables(db *pgtest.DB, owner string, n int) []postgres.TableName {
	names := make([]postgres.TableName, n)
	for i := range names {
		names[i] = public(fmt.Sprintf("%s_table_%03d", owner, i))
		db.AddTable(names[i].Name, owner, []string{"id"})
	}
	return names
}

func TestTableNameStreamZeroTables(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	addTables(db, "bob", 3)

	s, err := postgres.NewTableNameStream(ctx, db, "alice", opts(t, 100))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(0), s.Total())
	assert.Empty(t, s.TakePage().Rows)

	more, err := s.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, more)
}

func TestTableNameStreamPages(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	want := addTables(db, "alice", 250)
	addTables(db, "bob", 10)

	s, err := postgres.NewTableNameStream(ctx, db, "alice", opts(t, 100))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(250), s.Total())

	var got []postgres.TableName
	var offsets []int64
	p := s.TakePage()
	got = append(got, p.Rows...)
	offsets = append(offsets, p.Offset)
	for {
		more, err := s.Advance(ctx)
		require.NoError(t, err)
		if !more {
			break
		}
		p := s.TakePage()
		got = append(got, p.Rows...)
		offsets = append(offsets, p.Offset)
	}

	assert.Equal(t, want, got)
	assert.Equal(t, []int64{0, 100, 200}, offsets)
	assert.Equal(t, 1, db.QueryCount(countQuery), "total is counted once")
}

func TestTableNameStreamTotalIsFixed(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	addTables(db, "alice", 3)

	s, err := postgres.NewTableNameStream(ctx, db, "alice", opts(t, 1))
	require.NoError(t, err)
	defer s.Close()

	// A table created mid-listing sorts last and falls outside the snapshot total.
	db.AddTable("alice_table_zzz", "alice", nil)

	var got []postgres.TableName
	got = append(got, s.TakePage().Rows...)
	for {
		more, err := s.Advance(ctx)
		require.NoError(t, err)
		if !more {
			break
		}
		got = append(got, s.TakePage().Rows...)
	}

	assert.Equal(t, int64(3), s.Total())
	assert.Len(t, got, 3)
}

func TestTableNameStreamBindsOwner(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	owner := "o'brien; DROP TABLE x"
	addTables(db, owner, 1)

	names, err := postgres.ListTables(ctx, db, owner, opts(t, 10))
	require.NoError(t, err)
	assert.Len(t, names, 1)

	for _, q := range db.Queries() {
		assert.False(t, strings.Contains(q, "brien"), "owner leaked into SQL: %s", q)
	}
}

func TestListTables(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	want := addTables(db, "alice", 7)

	names, err := postgres.ListTables(ctx, db, "alice", opts(t, 3))
	require.NoError(t, err)
	assert.Equal(t, want, names)
	assert.Zero(t, db.Leased())
}

func TestTableNameStreamCancelledAcquire(t *testing.T) {
	db := pgtest.New(1)
	held, err := db.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = postgres.NewTableNameStream(ctx, db, "alice", opts(t, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCurrentUser(t *testing.T) {
	db := pgtest.New(1)
	db.SetCurrentUser("reporting")

	user, err := postgres.CurrentUser(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "reporting", user)
	assert.Zero(t, db.Leased())
}

func TestColumnsOrder(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"z", "a", "m"})

	conn, err := db.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	cols, err := postgres.Columns(ctx, conn, public("t"))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, cols)

	cols, err = postgres.Columns(ctx, conn, public("missing"))
	require.NoError(t, err)
	assert.Empty(t, cols)
}

func TestColumnsAreScopedBySchema(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id"})
	db.AddSchemaTable("audit", "t", "alice", []string{"at", "who"})

	conn, err := db.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	cols, err := postgres.Columns(ctx, conn, postgres.TableName{Schema: "audit", Name: "t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"at", "who"}, cols)
}

func TestTableNameStreamSchemas(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.AddTable("t", "postgres", []string{"id"})
	db.AddSchemaTable("audit", "t", "postgres", []string{"id"})
	db.AddSchemaTable("audit", "log", "postgres", []string{"id"})
	db.AddSchemaTable("information_schema", "sql_features", "postgres", []string{"feature_id"})

	names, err := postgres.ListTables(ctx, db, "postgres", opts(t, 2))
	require.NoError(t, err)
	assert.Equal(t, []postgres.TableName{
		{Schema: "audit", Name: "log"},
		{Schema: "audit", Name: "t"},
		{Schema: "information_schema", Name: "sql_features"},
		{Schema: "public", Name: "t", Visible: true},
	}, names)

	var display []string
	for _, n := range names {
		display = append(display, n.String())
	}
	assert.Equal(t, []string{"audit.log", "audit.t", "information_schema.sql_features", "t"}, display)
}

func TestTableNameStreamFollowsSearchPath(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(1)
	db.SetSearchPath("audit", "public")
	db.AddTable("t", "alice", []string{"id"})
	db.AddTable("users", "alice", []string{"id"})
	db.AddSchemaTable("audit", "t", "alice", []string{"id"})

	names, err := postgres.ListTables(ctx, db, "alice", opts(t, 10))
	require.NoError(t, err)
	assert.Equal(t, []postgres.TableName{
		{Schema: "audit", Name: "t", Visible: true},
		{Schema: "public", Name: "t"},
		{Schema: "public", Name: "users", Visible: true},
	}, names)
}
