package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

// Schema - DDL таблиц ticks, sessions, positions, trades
//
//go:embed schema.sql
var Schema string

// Migrate создаёт таблицы, если их ещё нет (идемпотентно)
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
