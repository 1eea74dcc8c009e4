// Package pgtest provides an in-memory stand-in for a PostgreSQL server that
// satisfies postgres.Pool. It understands exactly the statements pgexport
// issues, which lets streams and the exporter be tested without a server.
package pgtest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/pgexport/pkg/postgres"
)

// Table is one table of the fake catalog. Rows hold column values in column
// order; nil is NULL.
//
// Methods that take a table string accept a bare name for a table in the
// public schema and schema.name for any other.
type Table struct {
	Owner   string
	Columns []string
	Rows    [][]any
}

// DB is a fake server and its pool. All methods are safe for concurrent use.
type DB struct {
	mu          sync.Mutex
	tables      map[ref]*Table
	failures    map[ref]error
	undecodable map[ref]bool
	onPage      func(table string, offset int64)
	pageDelay   time.Duration
	user        string
	searchPath  []string

	queries        []string
	sem            chan struct{}
	leased         int
	maxLeased      int
	acquired       int
	doubleReleases int
	closed         bool
}

// New creates an empty catalog whose pool leases at most capacity
// connections.
func New(capacity int) *DB {
	return &DB{
		tables:      make(map[ref]*Table),
		failures:    make(map[ref]error),
		undecodable: make(map[ref]bool),
		user:        "postgres",
		searchPath:  []string{"public"},
		sem:         make(chan struct{}, capacity),
	}
}

var _ postgres.Pool = (*DB)(nil)

// ref identifies a table by schema and name.
type ref struct {
	schema string
	name   string
}

func parseRef(table string) ref {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return ref{schema: table[:i], name: table[i+1:]}
	}
	return ref{schema: "public", name: table}
}

func (r ref) String() string {
	if r.schema == "public" {
		return r.name
	}
	return r.schema + "." + r.name
}

// AddTable creates a table in the public schema.
func (db *DB) AddTable(name, owner string, columns []string, rows ...[]any) {
	db.AddSchemaTable("public", name, owner, columns, rows...)
}

// AddSchemaTable creates a table in schema.
func (db *DB) AddSchemaTable(schema, name, owner string, columns []string, rows ...[]any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[ref{schema: schema, name: name}] = &Table{Owner: owner, Columns: columns, Rows: rows}
}

// SetSearchPath sets the schemas searched for bare table names, in order.
// The default is public alone.
func (db *DB) SetSearchPath(schemas ...string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.searchPath = schemas
}

// InsertRows appends rows to table.
func (db *DB) InsertRows(table string, rows ...[]any) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[parseRef(table)]
	t.Rows = append(t.Rows, rows...)
}

// DeleteRows removes the first n rows of table.
func (db *DB) DeleteRows(table string, n int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t := db.tables[parseRef(table)]
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	t.Rows = t.Rows[n:]
}

// FailPageQuery makes every page query on table return err.
func (db *DB) FailPageQuery(table string, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.failures[parseRef(table)] = err
}

// FailDecode makes the first value of every page of table undecodable as text.
func (db *DB) FailDecode(table string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.undecodable[parseRef(table)] = true
}

// OnPageQuery registers fn to run before each row page query is answered.
// fn may mutate the catalog.
func (db *DB) OnPageQuery(fn func(table string, offset int64)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.onPage = fn
}

// SetPageDelay makes every row page query take at least d.
func (db *DB) SetPageDelay(d time.Duration) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.pageDelay = d
}

// SetCurrentUser sets the role reported by current_user.
func (db *DB) SetCurrentUser(user string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.user = user
}

// Queries returns every statement executed so far.
func (db *DB) Queries() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]string(nil), db.queries...)
}

// QueryCount returns how many executed statements contain substr.
func (db *DB) QueryCount(substr string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, q := range db.queries {
		if strings.Contains(q, substr) {
			n++
		}
	}
	return n
}

// Leased returns the number of connections currently leased.
func (db *DB) Leased() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.leased
}

// MaxLeased returns the highest number of simultaneously leased connections.
func (db *DB) MaxLeased() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.maxLeased
}

// Acquired returns the total number of leases handed out.
func (db *DB) Acquired() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.acquired
}

// DoubleReleases counts Release calls on already released connections.
func (db *DB) DoubleReleases() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.doubleReleases
}

// Acquire leases a connection, blocking while capacity are leased.
func (db *DB) Acquire(ctx context.Context) (postgres.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case db.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		<-db.sem
		return nil, fmt.Errorf("pgtest: pool closed")
	}
	db.leased++
	db.acquired++
	if db.leased > db.maxLeased {
		db.maxLeased = db.leased
	}
	return &conn{db: db}, nil
}

// Capacity returns the pool capacity.
func (db *DB) Capacity() int {
	return cap(db.sem)
}

// Close marks the pool closed; further Acquire calls fail.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
}

type conn struct {
	db       *DB
	released bool
}

func (c *conn) Release() {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.released {
		c.db.doubleReleases++
		return
	}
	c.released = true
	c.db.leased--
	<-c.db.sem
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isReleased() {
		return nil, fmt.Errorf("pgtest: query on released connection")
	}
	c.db.record(sql)

	switch {
	case strings.Contains(sql, "information_schema.columns"):
		return c.db.columns(ref{schema: args[0].(string), name: args[1].(string)}), nil
	case strings.Contains(sql, "COUNT(*) OVER"):
		return c.db.page(ctx, sql, args[0].(int64), args[1].(int64))
	case strings.Contains(sql, "pg_catalog.pg_tables"):
		return c.db.tableNames(args[0].(string), args[1].(int64), args[2].(int64)), nil
	}
	return nil, fmt.Errorf("pgtest: unsupported query %q", sql)
}

func (c *conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return &row{err: err}
	}
	if c.isReleased() {
		return &row{err: fmt.Errorf("pgtest: query on released connection")}
	}
	c.db.record(sql)

	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	switch {
	case strings.Contains(sql, "COUNT(*) FROM pg_catalog.pg_tables"):
		owner := args[0].(string)
		var n int64
		for _, t := range c.db.tables {
			if t.Owner == owner {
				n++
			}
		}
		return &row{rows: newRows([]string{"count"}, [][]any{{n}})}
	case strings.Contains(sql, "current_user"):
		return &row{rows: newRows([]string{"current_user"}, [][]any{{c.db.user}})}
	case strings.Contains(sql, "version()"):
		return &row{rows: newRows([]string{"version"}, [][]any{{"PostgreSQL 16.0 (pgtest)"}})}
	}
	return &row{err: fmt.Errorf("pgtest: unsupported query %q", sql)}
}

func (c *conn) isReleased() bool {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.released
}

func (db *DB) record(sql string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.queries = append(db.queries, sql)
}

func (db *DB) columns(table ref) pgx.Rows {
	db.mu.Lock()
	defer db.mu.Unlock()
	var data [][]any
	if t, ok := db.tables[table]; ok {
		for _, c := range t.Columns {
			data = append(data, []any{c})
		}
	}
	return newRows([]string{"column_name"}, data)
}

func (db *DB) tableNames(owner string, offset, limit int64) pgx.Rows {
	db.mu.Lock()
	defer db.mu.Unlock()
	var refs []ref
	for r, t := range db.tables {
		if t.Owner == owner {
			refs = append(refs, r)
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].schema != refs[j].schema {
			return refs[i].schema < refs[j].schema
		}
		return refs[i].name < refs[j].name
	})

	var data [][]any
	for _, r := range window(len(refs), offset, limit, refs) {
		data = append(data, []any{r.schema, r.name, db.visible(r)})
	}
	return newRows([]string{"schemaname", "tablename", "pg_table_is_visible"}, data)
}

// visible mirrors pg_table_is_visible: the first search_path schema holding
// a table of that name must be r's schema.
func (db *DB) visible(r ref) bool {
	for _, schema := range db.searchPath {
		if _, ok := db.tables[ref{schema: schema, name: r.name}]; ok {
			return schema == r.schema
		}
	}
	return false
}

var (
	pageTableRe  = regexp.MustCompile(`FROM ("(?:[^"]|"")+")\.("(?:[^"]|"")+")\) AS paged`)
	pageColumnRe = regexp.MustCompile(`coalesce\(("(?:[^"]|"")+")::text`)
)

func unquote(ident string) string {
	return strings.ReplaceAll(ident[1:len(ident)-1], `""`, `"`)
}

func (db *DB) page(ctx context.Context, sql string, offset, limit int64) (pgx.Rows, error) {
	m := pageTableRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, fmt.Errorf("pgtest: malformed page query %q", sql)
	}
	table := ref{schema: unquote(m[1]), name: unquote(m[2])}
	var columns []string
	for _, cm := range pageColumnRe.FindAllStringSubmatch(sql, -1) {
		columns = append(columns, unquote(cm[1]))
	}

	db.mu.Lock()
	hook, delay := db.onPage, db.pageDelay
	db.mu.Unlock()

	if hook != nil {
		hook(table.String(), offset)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.failures[table]; err != nil {
		return nil, err
	}
	t, ok := db.tables[table]
	if !ok {
		return nil, &pgconn.PgError{
			Severity: "ERROR",
			Code:     "42P01",
			Message:  fmt.Sprintf("relation \"%s.%s\" does not exist", table.schema, table.name),
		}
	}

	index := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		index[c] = i
	}

	total := int64(len(t.Rows))
	fields := append(append([]string{}, columns...), "__pgexport_sentinel", "__pgexport_total")
	var data [][]any
	for _, r := range window(len(t.Rows), offset, limit, t.Rows) {
		out := make([]any, 0, len(columns)+2)
		for _, c := range columns {
			out = append(out, text(r[index[c]]))
		}
		out = append(out, nil, total)
		data = append(data, out)
	}
	if db.undecodable[table] && len(data) > 0 && len(columns) > 0 {
		data[0][0] = int64(0)
	}
	return newRows(fields, data), nil
}

// text mirrors coalesce(v::text, '').
func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func window[T any](n int, offset, limit int64, items []T) []T {
	start := offset
	if start > int64(n) {
		start = int64(n)
	}
	end := start + limit
	if end > int64(n) {
		end = int64(n)
	}
	return items[start:end]
}
