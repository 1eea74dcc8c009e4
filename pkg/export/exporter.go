// Package export drives a whole run: it lists the tables owned by a role and
// streams each one into its own sink, one table at a time or in parallel
// under the connection pool's capacity.
package export

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pgexport/pkg/compression"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/logger"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
	"github.com/ajitpratap0/pgexport/pkg/observability"
	"github.com/ajitpratap0/pgexport/pkg/postgres"
	"github.com/ajitpratap0/pgexport/pkg/sink"
)

// Options configures an Exporter.
type Options struct {
	// PageSize is the LIMIT used for both table listing and row pages
	PageSize int
	// Parallel exports up to pool capacity tables at once
	Parallel         bool
	Compression      compression.Algorithm
	CompressionLevel compression.Level
	// Progress observes the run; nil disables progress reporting
	Progress Progress
	// NewFactory creates the sink factory for the prepared output directory.
	// Nil writes CSV files.
	NewFactory func(dir string) sink.Factory
	Logger     *zap.Logger
}

// TableResult describes one exported table.
type TableResult struct {
	Table    string        `json:"table"`
	Rows     int64         `json:"rows"`
	File     string        `json:"file"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary describes a completed run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Owner       string        `json:"owner"`
	OutputDir   string        `json:"output_dir"`
	Parallel    bool          `json:"parallel"`
	Compression string        `json:"compression"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Rows        int64         `json:"rows"`
	Tables      []TableResult `json:"tables"`
}

// Exporter exports every table owned by a role.
type Exporter struct {
	pool     postgres.Pool
	opts     Options
	progress Progress
	logger   *zap.Logger
}

// New creates an exporter leasing connections from pool.
func New(pool postgres.Pool, opts Options) *Exporter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Compression == "" {
		opts.Compression = compression.None
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = compression.Default
	}
	if opts.NewFactory == nil {
		algorithm, level, log := opts.Compression, opts.CompressionLevel, opts.Logger
		opts.NewFactory = func(dir string) sink.Factory {
			return sink.NewFileFactory(dir, sink.FileOptions{
				Compression: algorithm,
				Level:       level,
				Logger:      log,
			})
		}
	}
	progress := opts.Progress
	if progress == nil {
		progress = nopProgress{}
	}
	return &Exporter{
		pool:     pool,
		opts:     opts,
		progress: progress,
		logger:   opts.Logger.With(zap.String("component", "exporter")),
	}
}

func (e *Exporter) streamOptions(log *zap.Logger) postgres.Options {
	return postgres.Options{PageSize: e.opts.PageSize, Logger: log}
}

// ListTables returns all tables owned by owner, in every schema.
func (e *Exporter) ListTables(ctx context.Context, owner string) ([]postgres.TableName, error) {
	return postgres.ListTables(ctx, e.pool, owner, e.streamOptions(e.logger))
}

// Run exports every table owned by owner into outputDir, which is created
// if needed. Files of tables that failed are left as written. On error no
// summary is returned.
func (e *Exporter) Run(ctx context.Context, owner, outputDir string) (summary *Summary, err error) {
	started := time.Now()
	runID := uuid.New().String()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.OwnerKey, owner)
	log := logger.FromContext(ctx, e.logger)

	tracer := observability.NewExportTracer(owner)
	ctx, span := tracer.StartRun(ctx, e.opts.Parallel)
	defer func() { span.Finish(err) }()

	log.Info("Starting export", zap.Bool("parallel", e.opts.Parallel), zap.String("output_dir", outputDir))

	tables, err := postgres.ListTables(ctx, e.pool, owner, e.streamOptions(log))
	if err != nil {
		return nil, err
	}
	log.Info("Got tables", zap.Int("count", len(tables)))
	span.SetAttribute("export.tables", len(tables))
	span.SetAttribute("export.run_id", runID)

	if err := checkFileNames(tables); err != nil {
		return nil, err
	}

	dir, err := sink.PrepareDir(outputDir)
	if err != nil {
		return nil, err
	}
	factory := e.opts.NewFactory(dir)

	e.progress.Start(len(tables))
	defer e.progress.Stop()

	var results []TableResult
	if e.opts.Parallel {
		results, err = e.runParallel(ctx, tracer, factory, tables)
	} else {
		results, err = e.runSequential(ctx, tracer, factory, tables)
	}
	if err != nil {
		log.Error("Export failed", zap.Error(err))
		return nil, err
	}

	summary = &Summary{
		RunID:       runID,
		Owner:       owner,
		OutputDir:   dir,
		Parallel:    e.opts.Parallel,
		Compression: string(e.opts.Compression),
		StartedAt:   started.UTC(),
		Duration:    time.Since(started),
		Tables:      results,
	}
	for _, r := range results {
		summary.Rows += r.Rows
	}

	log.Info("Export completed",
		zap.Int("tables", len(results)),
		zap.Int64("rows", summary.Rows),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

func (e *Exporter) runSequential(ctx context.Context, tracer *observability.ExportTracer, factory sink.Factory, tables []postgres.TableName) ([]TableResult, error) {
	results := make([]TableResult, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.exportTable(ctx, tracer, factory, table)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// runParallel runs one task per table, at most pool capacity at a time.
// After the first failure no further task starts; tasks already running
// finish on ctx and their results are dropped.
func (e *Exporter) runParallel(ctx context.Context, tracer *observability.ExportTracer, factory sink.Factory, tables []postgres.TableName) ([]TableResult, error) {
	limit := e.pool.Capacity()
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	// Each task owns its slot, so results keep the listing order.
	results := make([]TableResult, len(tables))
	for i, table := range tables {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := e.exportTable(ctx, tracer, factory, table)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// exportTable streams one table into a new sink named after table.String().
// The cursor is opened first so a table that cannot be read leaves no file
// behind.
func (e *Exporter) exportTable(ctx context.Context, tracer *observability.ExportTracer, factory sink.Factory, table postgres.TableName) (res TableResult, err error) {
	name := table.String()
	ctx = logger.ContextWithTable(ctx, name)
	log := logger.FromContext(ctx, e.logger)
	ctx, span := tracer.StartTable(ctx, name)
	timer := metrics.NewTimer()
	res.Table = name

	e.progress.TableStarted(name)
	log.Debug("Exporting table")

	defer func() {
		res.Duration = timer.Stop()
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusFailure
			err = errors.Wrap(err, errors.TypeOf(err), "failed to export table").
				WithDetail("table", name)
			log.Error("Table export failed", zap.Int64("rows", res.Rows), zap.Error(err))
		} else {
			log.Info("Table exported",
				zap.Int64("rows", res.Rows),
				zap.String("file", res.File),
				zap.Duration("duration", res.Duration))
		}
		metrics.TablesExported.WithLabelValues(status).Inc()
		e.progress.TableFinished(name, res.Rows, err)
		span.SetAttribute("export.rows", res.Rows)
		span.Finish(err)
	}()

	cursor, err := postgres.NewTableCursor(ctx, e.pool, table, e.streamOptions(log))
	if err != nil {
		return res, err
	}
	defer cursor.Close()

	out, err := factory.Create(name)
	if err != nil {
		return res, err
	}
	defer out.Close()
	res.File = out.Path()

	if err = out.WriteHeader(cursor.Header()); err != nil {
		return res, err
	}

	for {
		page := cursor.TakePage()
		for _, record := range page.Rows {
			if err = out.WriteRecord(record); err != nil {
				res.Rows = out.Rows()
				return res, err
			}
		}
		metrics.RowsExported.Add(float64(len(page.Rows)))

		more, advErr := cursor.Advance(ctx)
		if advErr != nil {
			res.Rows = out.Rows()
			return res, advErr
		}
		if !more {
			break
		}
	}

	res.Rows = out.Rows()
	if err = out.Close(); err != nil {
		return res, err
	}
	return res, nil
}

// checkFileNames fails when two tables would be written to the same file.
func checkFileNames(tables []postgres.TableName) error {
	seen := make(map[string]postgres.TableName, len(tables))
	for _, t := range tables {
		name := t.String()
		if prev, ok := seen[name]; ok {
			return errors.Newf(errors.ErrorTypeValidation,
				"tables %s.%s and %s.%s would both be exported as %q",
				prev.Schema, prev.Name, t.Schema, t.Name, name)
		}
		seen[name] = t
	}
	return nil
}
