package export

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/ajitpratap0/pgexport/pkg/compression"
	"github.com/ajitpratap0/pgexport/pkg/errors"
)

// Verify re-reads every file listed in summary and checks that it holds the
// recorded number of rows. Files are decompressed with the algorithm the
// summary names. It stops at the first mismatch.
func Verify(ctx context.Context, summary *Summary) error {
	algorithm, err := compression.ParseAlgorithm(summary.Compression)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression in manifest")
	}

	for _, t := range summary.Tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := countRows(t.File, algorithm)
		if err != nil {
			return err
		}
		if rows != t.Rows {
			return errors.Newf(errors.ErrorTypeFile, "file holds %d rows, manifest records %d", rows, t.Rows).
				WithDetail("table", t.Table).
				WithDetail("path", t.File)
		}
	}
	return nil
}

// countRows counts the CSV records in path after the header. A record ends
// at a newline outside double quotes; an embedded quote is written doubled,
// so toggling on every quote tracks the state.
func countRows(path string, algorithm compression.Algorithm) (int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the manifest
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open exported file").
			WithDetail("path", path)
	}
	defer f.Close()

	r, err := compression.NewReader(bufio.NewReader(f), algorithm)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to open decompressor").
			WithDetail("path", path)
	}
	defer r.Close()

	var (
		records  int64
		inQuotes bool
		buf      = make([]byte, 32*1024)
	)
	for {
		n, rerr := r.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '"':
				inQuotes = !inQuotes
			case b == '\n' && !inQuotes:
				records++
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, errors.Wrap(rerr, errors.ErrorTypeFile, "failed to read exported file").
				WithDetail("path", path)
		}
	}

	if records == 0 {
		return 0, errors.New(errors.ErrorTypeFile, "exported file has no header").
			WithDetail("path", path)
	}
	return records - 1, nil
}
