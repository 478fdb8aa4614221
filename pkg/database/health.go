package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// Health pings the database and returns a short status string suitable
// for the health endpoint.
func Health(ctx context.Context, db *stdsql.DB) (string, error) {
	if err := db.PingContext(ctx); err != nil {
		return "unreachable", fmt.Errorf("database ping failed: %w", err)
	}
	return "connected", nil
}
