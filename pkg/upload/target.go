// Package upload mirrors exported files to object storage.
//
// A target is written as s3://bucket/prefix or gs://bucket/prefix. Every
// file is stored under prefix with its base name, so a run's layout is
// preserved in the bucket.
package upload

import (
	"net/url"
	"path"
	"strings"

	"github.com/ajitpratap0/pgexport/pkg/errors"
)

// Supported target schemes
const (
	SchemeS3  = "s3"
	SchemeGCS = "gs"
)

// Target is a bucket and key prefix in one object store.
type Target struct {
	Scheme string
	Bucket string
	Prefix string
}

// ParseTarget parses s3://bucket/prefix or gs://bucket/prefix.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid upload target").
			WithDetail("target", raw)
	}
	if u.Scheme != SchemeS3 && u.Scheme != SchemeGCS {
		return Target{}, errors.Newf(errors.ErrorTypeConfig, "upload target %q must start with s3:// or gs://", raw)
	}
	if u.Host == "" {
		return Target{}, errors.Newf(errors.ErrorTypeConfig, "upload target %q has no bucket", raw)
	}
	return Target{
		Scheme: u.Scheme,
		Bucket: u.Host,
		Prefix: strings.Trim(u.Path, "/"),
	}, nil
}

// Key returns the object key for a file name.
func (t Target) Key(name string) string {
	if t.Prefix == "" {
		return name
	}
	return path.Join(t.Prefix, name)
}

func (t Target) String() string {
	if t.Prefix == "" {
		return t.Scheme + "://" + t.Bucket
	}
	return t.Scheme + "://" + t.Bucket + "/" + t.Prefix
}

// contentType guesses the object content type from the file name.
func contentType(name string) string {
	switch path.Ext(name) {
	case ".csv":
		return "text/csv"
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
