package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// DSNEnv names the environment variable holding the connection string of
// the PostgreSQL server used by integration tests.
const DSNEnv = "PGEXPORT_TEST_DSN"

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireDSN returns the integration server DSN, skipping the test when it is
// not configured or when running in short mode.
func RequireDSN(t *testing.T) string {
	t.Helper()
	IntegrationTest(t)

	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	return dsn
}

// IntegrationTestSuite provides base functionality for integration tests
// against a real server. Set DSN before running the suite.
type IntegrationTestSuite struct {
	suite.Suite
	DSN string

	ctx       context.Context
	cancel    context.CancelFunc
	admin     *pgx.Conn
	logger    *zap.Logger
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()
	s.logger = zaptest.NewLogger(s.T())

	conn, err := pgx.Connect(s.ctx, s.DSN)
	s.Require().NoError(err)
	s.admin = conn

	tempDir, err := os.MkdirTemp("", "pgexport-test-*")
	s.Require().NoError(err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	if s.admin != nil {
		_ = s.admin.Close(context.Background())
	}
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
	s.cancel()

	s.T().Logf("Integration test suite completed in %v", time.Since(s.startTime))
}

// Context returns the suite context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Logger returns the suite logger
func (s *IntegrationTestSuite) Logger() *zap.Logger {
	return s.logger
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// Exec runs a statement on the suite's own connection and fails the test on
// error.
func (s *IntegrationTestSuite) Exec(sql string, args ...any) {
	_, err := s.admin.Exec(s.ctx, sql, args...)
	s.Require().NoError(err, sql)
}

// TryExec runs a statement and returns its error.
func (s *IntegrationTestSuite) TryExec(sql string, args ...any) error {
	_, err := s.admin.Exec(s.ctx, sql, args...)
	return err
}
