package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tasksmint/tasksmint/internal/cache"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *cache.SQLiteStore {
	t.Helper()

	s, err := cache.NewSQLiteStore(":memory:", QuietLogger())
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// QuietLogger returns a logger that discards all output, keeping test
// output free of cache noise.
func QuietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
