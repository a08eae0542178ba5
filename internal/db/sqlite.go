package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// NewSQLiteConnection opens (or creates) a SQLite database file. Used for
// local runs and tests.
func NewSQLiteConnection(path string) (*sqlx.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty SQLite path")
	}
	// _time_format=sqlite keeps DATETIME columns sortable and parseable.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)&_time_format=sqlite", path)
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// single writer; concurrent units of work queue on the pool
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
