package export

import (
	"os"

	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/json"
)

// WriteManifest writes summary as indented JSON to path.
func WriteManifest(path string, summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode manifest")
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write manifest").
			WithDetail("path", path)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Summary, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read manifest").
			WithDetail("path", path)
	}
	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode manifest").
			WithDetail("path", path)
	}
	return &summary, nil
}
