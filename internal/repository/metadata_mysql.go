package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// NewMySQLMetadataRepository connects to MySQL and creates the tables.
// The DSN must set parseTime=true.
func NewMySQLMetadataRepository(dsn string, tables Collections) (Repository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	repo, err := newSQLMetadataRepository(db, mysqlDialect, tables)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Msg("[MySQLMetadataRepository] Initialized")
	return repo, nil
}
