package testsupport

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-service-store/record"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t *testing.T, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadRecords loads a JSON array of objects as records. Numbers decode as
// float64, the way they arrive from a JSON transport.
func LoadRecords(t *testing.T, path string) []*record.Record {
	t.Helper()

	var rows []map[string]any
	LoadFixtureJSON(t, path, &rows)

	return Records(rows...)
}

// Records wraps field maps into records.
func Records(rows ...map[string]any) []*record.Record {
	out := make([]*record.Record, len(rows))
	for i, row := range rows {
		out[i] = record.New(row)
	}
	return out
}

// LoadReader creates an io.Reader from fixture data.
// Useful for testing functions that accept readers, such as config loaders.
func LoadReader(t *testing.T, path string) io.Reader {
	t.Helper()

	return bytes.NewReader(LoadFixture(t, path))
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}
