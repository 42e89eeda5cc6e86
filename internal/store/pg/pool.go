// Package pg provides a Postgres-backed session store for managed
// deployments. Schema setup runs through embedded migrations.
package pg

import (
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// OpenDB connects to Postgres using the pgx driver and applies pending
// migrations.
func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("postgres connected", "dsn_len", len(dsn))
	return db, nil
}
