// Package postgres implements paginated extraction from PostgreSQL: the
// connection pool, column discovery, the owned table listing and the
// per-table record cursor.
//
// Every stream leases one connection from the Pool for its whole lifetime
// and returns it on Close. Pages are fetched with OFFSET/LIMIT; nothing spans
// pages in a transaction, so concurrent writers can make totals drift between
// pages.
package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
)

// Conn is a leased database connection.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Release returns the connection to its pool. It must be called exactly once.
	Release()
}

// Pool hands out leased connections. Acquire blocks while Capacity
// connections are leased.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Capacity() int
	Close()
}

// PgxPool is a Pool backed by pgxpool.
type PgxPool struct {
	pool   *pgxpool.Pool
	config *pgxpool.Config
	logger *zap.Logger
	leased atomic.Int64
}

// NewPool creates the connection pool described by cfg and validates it
// with a round trip to the server.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PgxPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse connection string")
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = config.DefaultMaxConnections
	}
	poolConfig.MinConns = 0

	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	poolConfig.MaxConnIdleTime = cfg.IdleTimeout
	if poolConfig.MaxConnIdleTime <= 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if poolConfig.HealthCheckPeriod <= 0 {
		poolConfig.HealthCheckPeriod = 30 * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	p := &PgxPool{
		pool:   pool,
		config: poolConfig,
		logger: logger.With(zap.String("component", "postgres-pool")),
	}

	var version string
	if err := p.validateConnection(ctx, &version); err != nil {
		pool.Close()
		return nil, err
	}

	p.logger.Info("Connected to PostgreSQL",
		zap.String("version", version),
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_connections", poolConfig.MaxConns),
		zap.Duration("idle_timeout", poolConfig.MaxConnIdleTime),
		zap.Duration("health_check_period", poolConfig.HealthCheckPeriod))

	return p, nil
}

// validateConnection tests the connection and reads the server version
func (p *PgxPool) validateConnection(ctx context.Context, version *string) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	defer conn.Release()

	if err := conn.QueryRow(ctx, "SELECT version()").Scan(version); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to query server version")
	}

	return nil
}

// Acquire leases a connection, blocking while the pool is exhausted.
func (p *PgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}
	p.leased.Add(1)
	metrics.LeasedConnections.Inc()
	return &leasedConn{Conn: conn, pool: p}, nil
}

// Capacity returns the maximum number of concurrently leased connections
func (p *PgxPool) Capacity() int {
	return int(p.config.MaxConns)
}

// Leased returns the number of connections currently leased
func (p *PgxPool) Leased() int64 {
	return p.leased.Load()
}

// Close closes all connections. Leased connections are closed as they are
// released.
func (p *PgxPool) Close() {
	p.pool.Close()
}

// leasedConn keeps the lease accounting next to the pgxpool connection.
type leasedConn struct {
	*pgxpool.Conn
	pool *PgxPool
	once sync.Once
}

func (c *leasedConn) Release() {
	c.once.Do(func() {
		c.pool.leased.Add(-1)
		metrics.LeasedConnections.Dec()
		c.Conn.Release()
	})
}

// CurrentUser returns the role the pool connects as. It is the default table
// owner.
func CurrentUser(ctx context.Context, pool Pool) (string, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Release()

	var user string
	if err := conn.QueryRow(ctx, currentUserQuery).Scan(&user); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "failed to query current user")
	}
	return user, nil
}
