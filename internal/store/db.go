package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func Open(ctx context.Context, dialect Dialect, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open(dialect.driverName(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	if dialect == SQLite {
		// One writer at a time; a second connection would see SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}
