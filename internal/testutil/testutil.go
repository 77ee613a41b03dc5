// Package testutil provides shared test helpers and fixtures.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WriteConfig writes values as a JSON config file in dir and returns its path.
func WriteConfig(t *testing.T, dir string, values map[string]any) string {
	t.Helper()
	data, err := json.Marshal(values)
	AssertNoError(t, err)
	path := filepath.Join(dir, "config.json")
	AssertNoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// Timestamps returns n timestamps starting at start, period seconds apart.
func Timestamps(n int, start, period float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = start + float64(i)*period
	}
	return ts
}
