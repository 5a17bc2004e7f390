package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// NewSQLiteMetadataRepository opens (or creates) a SQLite metadata store.
// dbPath is the path to the database file (e.g., "./data/metadata.db").
func NewSQLiteMetadataRepository(dbPath string, tables Collections) (Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	repo, err := newSQLMetadataRepository(db, sqliteDialect, tables)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Msgf("[SQLiteMetadataRepository] Initialized with database: %s", dbPath)
	return repo, nil
}
