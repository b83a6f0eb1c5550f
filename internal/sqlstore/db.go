// Package sqlstore wraps the Postgres pool every other component in
// deploy-core shares, and carries the embedded schema migration.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

func Open(connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	return &DB{db}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly: every
// statement is guarded with IF NOT EXISTS.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}
