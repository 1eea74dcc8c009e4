package export_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pgexport/pkg/compression"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/export"
	"github.com/ajitpratap0/pgexport/pkg/postgres"
	"github.com/ajitpratap0/pgexport/pkg/postgres/pgtest"
)

func newExporter(t *testing.T, db *pgtest.DB, parallel bool, pageSize int) *export.Exporter {
	return export.New(db, export.Options{
		PageSize: pageSize,
		Parallel: parallel,
		Logger:   zaptest.NewLogger(t),
	})
}

func seed(db *pgtest.DB, owner string, tables, rows int) []string {
	names := make([]string, tables)
	for i := range names {
		names[i] = fmt.Sprintf("table_%02d", i)
		data := make([][]any, rows)
		for r := range data {
			data[r] = []any{int64(r + 1), fmt.Sprintf("%s-%d", names[i], r+1)}
		}
		db.AddTable(names[i], owner, []string{"id", "name"}, data...)
	}
	return names
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestRunSequential(t *testing.T) {
	ctx := context.Background()
	db := pgtest.New(2)
	db.AddTable("t", "alice", []string{"id", "name"},
		[]any{int64(1), "a"},
		[]any{int64(2), nil},
	)
	db.AddTable("other", "bob", []string{"x"}, []any{"y"})

	dir := filepath.Join(t.TempDir(), "nested", "out")
	summary, err := newExporter(t, db, false, 1).Run(ctx, "alice", dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"t.csv"}, listDir(t, dir))
	assert.Equal(t, "id,name\n1,a\n2,\n", readFile(t, filepath.Join(dir, "t.csv")))

	abs, err := filepath.Abs(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, summary.OutputDir)
	assert.Equal(t, "alice", summary.Owner)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, int64(2), summary.Rows)
	require.Len(t, summary.Tables, 1)
	assert.Equal(t, "t", summary.Tables[0].Table)
	assert.Equal(t, int64(2), summary.Tables[0].Rows)
	assert.Equal(t, filepath.Join(abs, "t.csv"), summary.Tables[0].File)
	assert.Zero(t, db.Leased())
}

func TestRunZeroTables(t *testing.T) {
	db := pgtest.New(2)
	dir := filepath.Join(t.TempDir(), "empty")

	summary, err := newExporter(t, db, true, 100).Run(context.Background(), "nobody", dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Empty(t, listDir(t, dir))
	assert.Empty(t, summary.Tables)
}

func TestRunZeroRowTableWritesHeader(t *testing.T) {
	db := pgtest.New(1)
	db.AddTable("empty", "alice", []string{"a", "b"})
	dir := t.TempDir()

	_, err := newExporter(t, db, false, 100).Run(context.Background(), "alice", dir)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", readFile(t, filepath.Join(dir, "empty.csv")))
}

func TestRunParallelRespectsCapacity(t *testing.T) {
	const capacity = 3
	db := pgtest.New(capacity)
	names := seed(db, "alice", 10, 5)
	db.SetPageDelay(5 * time.Millisecond)
	dir := t.TempDir()

	summary, err := newExporter(t, db, true, 2).Run(context.Background(), "alice", dir)
	require.NoError(t, err)

	assert.LessOrEqual(t, db.MaxLeased(), capacity)
	assert.Zero(t, db.Leased())
	assert.Zero(t, db.DoubleReleases())

	require.Len(t, summary.Tables, len(names))
	for i, r := range summary.Tables {
		assert.Equal(t, names[i], r.Table)
		assert.Equal(t, int64(5), r.Rows)
	}
	assert.Equal(t, int64(50), summary.Rows)
	assert.Len(t, listDir(t, dir), len(names))
}

func TestRunParallelMatchesSequential(t *testing.T) {
	db := pgtest.New(4)
	names := seed(db, "alice", 6, 7)

	seqDir, parDir := t.TempDir(), t.TempDir()
	_, err := newExporter(t, db, false, 3).Run(context.Background(), "alice", seqDir)
	require.NoError(t, err)
	_, err = newExporter(t, db, true, 3).Run(context.Background(), "alice", parDir)
	require.NoError(t, err)

	for _, name := range names {
		file := name + ".csv"
		assert.Equal(t, readFile(t, filepath.Join(seqDir, file)), readFile(t, filepath.Join(parDir, file)))
	}
}

func TestRunParallelFailFast(t *testing.T) {
	db := pgtest.New(1)
	seed(db, "alice", 3, 2)
	db.FailPageQuery("table_00", fmt.Errorf("boom"))
	dir := t.TempDir()

	summary, err := newExporter(t, db, true, 100).Run(context.Background(), "alice", dir)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Contains(t, err.Error(), "boom")

	// one lease for the listing, one for the failed table
	assert.Equal(t, 2, db.Acquired())
	assert.Empty(t, listDir(t, dir))
	assert.Zero(t, db.Leased())
}

func TestRunSequentialStopsOnFirstError(t *testing.T) {
	db := pgtest.New(2)
	seed(db, "alice", 3, 2)
	db.FailDecode("table_01")
	dir := t.TempDir()

	_, err := newExporter(t, db, false, 100).Run(context.Background(), "alice", dir)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDecode))
	assert.Equal(t, []string{"table_00.csv"}, listDir(t, dir))
}

func TestRunLeavesPartialFile(t *testing.T) {
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id"}, []any{int64(1)}, []any{int64(2)}, []any{int64(3)})
	db.OnPageQuery(func(table string, offset int64) {
		if offset == 1 {
			db.FailPageQuery(table, fmt.Errorf("connection reset"))
		}
	})
	dir := t.TempDir()

	_, err := newExporter(t, db, false, 1).Run(context.Background(), "alice", dir)
	require.Error(t, err)
	assert.Equal(t, "id\n1\n", readFile(t, filepath.Join(dir, "t.csv")))
	assert.Zero(t, db.Leased())
}

func TestRunIsByteIdentical(t *testing.T) {
	db := pgtest.New(2)
	names := seed(db, "alice", 4, 23)
	dir := t.TempDir()
	exp := newExporter(t, db, true, 10)

	_, err := exp.Run(context.Background(), "alice", dir)
	require.NoError(t, err)
	first := make(map[string]string, len(names))
	for _, name := range names {
		first[name] = readFile(t, filepath.Join(dir, name+".csv"))
	}

	_, err = exp.Run(context.Background(), "alice", dir)
	require.NoError(t, err)
	for _, name := range names {
		assert.Equal(t, first[name], readFile(t, filepath.Join(dir, name+".csv")))
	}
}

func TestRunCompressed(t *testing.T) {
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id"}, []any{int64(1)})
	dir := t.TempDir()

	exp := export.New(db, export.Options{
		Compression: compression.Gzip,
		Logger:      zaptest.NewLogger(t),
	})
	summary, err := exp.Run(context.Background(), "alice", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"t.csv.gz"}, listDir(t, dir))
	assert.Equal(t, "gzip", summary.Compression)

	f, err := os.Open(filepath.Join(dir, "t.csv.gz"))
	require.NoError(t, err)
	defer f.Close()
	r, err := compression.NewReader(f, compression.Gzip)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))
}

func TestRunCancelled(t *testing.T) {
	db := pgtest.New(1)
	seed(db, "alice", 2, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExporter(t, db, true, 100).Run(ctx, "alice", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListTables(t *testing.T) {
	db := pgtest.New(1)
	names := seed(db, "alice", 3, 0)

	got, err := newExporter(t, db, false, 2).ListTables(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, len(names))
	for i, table := range got {
		assert.Equal(t, postgres.TableName{Schema: "public", Name: names[i], Visible: true}, table)
	}
}

func TestRunExportsEverySchema(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%v", parallel), func(t *testing.T) {
			db := pgtest.New(2)
			db.AddTable("t", "postgres", []string{"id"}, []any{int64(1)})
			db.AddSchemaTable("audit", "t", "postgres", []string{"at", "who"}, []any{"monday", "bob"})
			db.AddSchemaTable("information_schema", "sql_features", "postgres", []string{"feature_id"}, []any{"B011"})
			dir := t.TempDir()

			summary, err := newExporter(t, db, parallel, 10).Run(context.Background(), "postgres", dir)
			require.NoError(t, err)

			assert.Equal(t, []string{"audit.t.csv", "information_schema.sql_features.csv", "t.csv"}, listDir(t, dir))
			assert.Equal(t, "id\n1\n", readFile(t, filepath.Join(dir, "t.csv")))
			assert.Equal(t, "at,who\nmonday,bob\n", readFile(t, filepath.Join(dir, "audit.t.csv")))
			assert.Equal(t, "feature_id\nB011\n", readFile(t, filepath.Join(dir, "information_schema.sql_features.csv")))

			var tables []string
			for _, r := range summary.Tables {
				tables = append(tables, r.Table)
			}
			assert.Equal(t, []string{"audit.t", "information_schema.sql_features", "t"}, tables)
			assert.Equal(t, int64(3), summary.Rows)
		})
	}
}

func TestRunRejectsCollidingFileNames(t *testing.T) {
	db := pgtest.New(2)
	db.AddTable("audit.t", "alice", []string{"id"})
	db.AddSchemaTable("audit", "t", "alice", []string{"id"})
	dir := filepath.Join(t.TempDir(), "out")

	summary, err := newExporter(t, db, true, 10).Run(context.Background(), "alice", dir)
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), `"audit.t"`)
	assert.NoDirExists(t, dir)
	assert.Zero(t, db.QueryCount("COUNT(*) OVER"))
}

type recordingProgress struct {
	started  int
	finished []string
	failed   int
	stopped  bool
}

func (p *recordingProgress) Start(n int)         { p.started = n }
func (p *recordingProgress) TableStarted(string) {}
func (p *recordingProgress) Stop()               { p.stopped = true }
func (p *recordingProgress) TableFinished(table string, _ int64, err error) {
	p.finished = append(p.finished, table)
	if err != nil {
		p.failed++
	}
}

func TestRunReportsProgress(t *testing.T) {
	db := pgtest.New(1)
	names := seed(db, "alice", 3, 2)
	progress := &recordingProgress{}

	exp := export.New(db, export.Options{Progress: progress, Logger: zaptest.NewLogger(t)})
	_, err := exp.Run(context.Background(), "alice", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, progress.started)
	assert.Equal(t, names, progress.finished)
	assert.Zero(t, progress.failed)
	assert.True(t, progress.stopped)
}
