package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NotifyChannel is the Postgres channel that receives the id of every
// delivery inserted as pending.
const NotifyChannel = "delivery_created"

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS deliveries (
		id                TEXT PRIMARY KEY,
		phone             TEXT NOT NULL DEFAULT '',
		message           TEXT NOT NULL DEFAULT '',
		sender            TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending'
		                  CHECK (status IN ('pending', 'sent', 'failed')),
		message_id        TEXT,
		error             TEXT,
		provider_response TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_status_created
		ON deliveries (status, created_at)`,
	`CREATE OR REPLACE FUNCTION notify_delivery_created() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', NEW.id);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS deliveries_notify_created ON deliveries`,
	`CREATE TRIGGER deliveries_notify_created
		AFTER INSERT ON deliveries
		FOR EACH ROW
		WHEN (NEW.status = 'pending')
		EXECUTE FUNCTION notify_delivery_created()`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS deliveries (
		id                TEXT PRIMARY KEY,
		phone             TEXT NOT NULL DEFAULT '',
		message           TEXT NOT NULL DEFAULT '',
		sender            TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'pending'
		                  CHECK (status IN ('pending', 'sent', 'failed')),
		message_id        TEXT,
		error             TEXT,
		provider_response TEXT,
		created_at        TIMESTAMP NOT NULL,
		processed_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_status_created
		ON deliveries (status, created_at)`,
}

// Migrate creates the deliveries table for the connected dialect. It is
// safe to run on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case "pgx", "postgres":
		stmts = postgresSchema
	case "sqlite3":
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", db.DriverName())
	}

	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d: %w", i+1, err)
		}
	}
	return nil
}
