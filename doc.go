// Package pgexport exports every table owned by a PostgreSQL role into one
// CSV file per table without holding any table in memory.
//
// # Architecture
//
// Rows are read page by page with OFFSET/LIMIT. Each page query projects
// every column as text and carries a COUNT(*) window, so the total is
// re-observed on every page and a table that grows or shrinks during the
// export is followed rather than snapshotted. The table list itself is
// counted once up front.
//
// Tables are listed from every schema. A table is written as <table>.csv
// when search_path resolves its bare name to it, and as
// <schema>.<table>.csv otherwise.
//
// The packages, leaves first:
//
//   - pkg/postgres: connection pool, schema discovery, the table name stream
//     and the row cursor.
//   - pkg/sink: CSV files, optionally compressed by pkg/compression.
//   - pkg/export: the run itself, sequential or fanned out over at most
//     pool capacity tables, failing fast on the first error.
//   - pkg/upload: optional mirroring of the files to S3 or GCS.
//   - cmd/pgexport: the command line.
//
// # Quick Start
//
//	pgexport export --dsn postgres://alice@localhost/app -o ./dump --parallel
//
// or from Go:
//
//	pool, err := postgres.NewPool(ctx, cfg.Database, log)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	summary, err := export.New(pool, export.Options{Parallel: true, Logger: log}).
//		Run(ctx, "alice", "./dump")
//
// # Limitations
//
// NULL and the empty string are both written as an empty field. Pages are
// not read in one transaction, so concurrent writes can cause rows to be
// skipped or repeated. A table that grows while its last page is exactly
// full ends the stream without another read.
package pgexport
