// Package db resolves SQLite DSNs for the optional sqlite store driver.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lumenca/holdfast/internal/pathutil"
)

const defaultDBFile = "holdfast.db"

// ResolveSQLiteDSN normalizes a configured DSN: expands "~", defaults to
// ~/.holdfast/holdfast.db, creates the parent directory, and appends the
// pragmas a single-writer approval store wants.
func ResolveSQLiteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == ":memory:" {
		return dsn, nil
	}

	if dsn == "" {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return "", fmt.Errorf("cannot resolve home directory for default dsn: %w", err)
		}
		dsn = filepath.Join(home, ".holdfast", defaultDBFile)
	} else {
		dsn = pathutil.ExpandHomePath(dsn)
	}

	path, query, _ := strings.Cut(dsn, "?")
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
	}

	if query == "" {
		query = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	return path + "?" + query, nil
}
