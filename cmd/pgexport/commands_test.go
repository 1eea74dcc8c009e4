package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/export"
	"github.com/ajitpratap0/pgexport/pkg/postgres/pgtest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommandWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgexport.yaml")

	out, err := execute(t, "config", path,
		"--dsn", "postgres://bob@db/app",
		"--table-owner", "reporting",
		"--compression", "gzip",
		"-p",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote configuration to "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg := config.NewExportConfig()
	require.NoError(t, config.Load(path, cfg))
	assert.Equal(t, "postgres://bob@db/app", cfg.Database.DSN)
	assert.Equal(t, "reporting", cfg.Export.Owner)
	assert.Equal(t, "gzip", cfg.Export.Compression)
	assert.True(t, cfg.Export.Parallel)
}

func exportWithManifest(t *testing.T) (string, *export.Summary) {
	t.Helper()
	db := pgtest.New(1)
	db.AddTable("t", "alice", []string{"id", "note"},
		[]any{int64(1), "line\nbreak"},
		[]any{int64(2), nil},
	)
	db.AddSchemaTable("audit", "t", "alice", []string{"id"}, []any{int64(7)})

	exp := export.New(db, export.Options{Logger: zaptest.NewLogger(t)})
	summary, err := exp.Run(context.Background(), "alice", t.TempDir())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "manifest.json")
	require.NoError(t, export.WriteManifest(path, summary))
	return path, summary
}

func TestVerifyCommand(t *testing.T) {
	path, _ := exportWithManifest(t)

	out, err := execute(t, "verify", path)
	require.NoError(t, err)
	assert.Equal(t, "Verified 2 tables (3 rows) from "+path+"\n", out)
}

func TestVerifyCommandReportsMismatch(t *testing.T) {
	path, summary := exportWithManifest(t)
	require.NoError(t, os.Remove(summary.Tables[0].File))

	_, err := execute(t, "verify", path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

func TestVerifyCommandRequiresManifest(t *testing.T) {
	_, err := execute(t, "verify")
	require.Error(t, err)

	_, err = execute(t, "verify", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}
