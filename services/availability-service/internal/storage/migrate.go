package storage

import (
	"context"
	_ "embed"

	"github.com/mindery/booking/libs/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Without arguments pgx sends it over
// the simple protocol, which accepts several statements at once.
func Migrate(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}
