package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order and recorded in schema_migrations, so
// restarting the server is always safe.
var migrations = []struct {
	name string
	sql  string
}{
	{
		name: "001_core_tables",
		sql: `
CREATE TABLE IF NOT EXISTS restaurants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	restaurant_id UUID NOT NULL REFERENCES restaurants(id),
	full_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	hashed_password TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('OWNER','MANAGER','WAITER','KITCHEN')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	restaurant_id UUID NOT NULL REFERENCES restaurants(id),
	number BIGINT NOT NULL,
	service_kind TEXT NOT NULL CHECK (service_kind IN ('DINING','TAKEAWAY')),
	zone_id TEXT NOT NULL DEFAULT '',
	session_key TEXT,
	status TEXT NOT NULL CHECK (status IN ('PENDING','SENT','PREPARING','READY','SERVED','CANCELLED')),
	total NUMERIC(12,2) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_updated TIMESTAMPTZ,
	UNIQUE (restaurant_id, number)
);

CREATE TABLE IF NOT EXISTS order_lines (
	order_id TEXT NOT NULL REFERENCES orders(id),
	position INT NOT NULL,
	name TEXT NOT NULL,
	unit_price NUMERIC(12,2) NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 1),
	note TEXT,
	composed_selection JSONB,
	status TEXT NOT NULL CHECK (status IN ('ACTIVE','DELETED')),
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (order_id, position)
);

CREATE TABLE IF NOT EXISTS session_bindings (
	restaurant_id UUID NOT NULL REFERENCES restaurants(id),
	session_key TEXT NOT NULL,
	order_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (restaurant_id, session_key)
);

CREATE TABLE IF NOT EXISTS order_counters (
	restaurant_id UUID PRIMARY KEY REFERENCES restaurants(id),
	value BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS print_settings (
	restaurant_id UUID PRIMARY KEY REFERENCES restaurants(id),
	printer_address TEXT NOT NULL,
	gateway_address TEXT NOT NULL
);
`,
	},
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
			tx.Rollback(ctx) //nolint:errcheck
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
		log.Printf("applied migration %s", m.name)
	}
	return nil
}
