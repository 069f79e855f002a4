// Package testutil provides shared test helpers for setting up repositories
// and loggers.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/quizmate/quizmate/internal/repo"
)

// TestRepo creates a temporary SQLite subject repository that is
// automatically cleaned up.
func TestRepo(t *testing.T) *repo.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "quizmate-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := repo.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLogger returns a logger that discards all output.
func TestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
