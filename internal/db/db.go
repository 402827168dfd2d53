package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "missionctl.db"

type Config struct {
	// DataDir holds the database file; created when missing.
	DataDir string
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir(dir string) (string, error) {
	if dir == "" {
		dir = ".missionctl"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the SQLite database in WAL mode with a busy timeout so the CLI
// and a running server can share it.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", Path(dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the db path inside a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, defaultDBName)
}
