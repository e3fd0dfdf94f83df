package sqlstore

import (
	"context"
	"fmt"
)

// schema is valid for both SQLite and PostgreSQL. Times are unix nanoseconds;
// a NULL entitlement_days or expires_at means permanent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS license_keys (
		code TEXT PRIMARY KEY,
		entitlement_days INTEGER,
		class TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		redeemed_by TEXT,
		redeemed_at BIGINT,
		CHECK ((used = 0 AND redeemed_by IS NULL AND redeemed_at IS NULL)
			OR (used = 1 AND redeemed_by IS NOT NULL AND redeemed_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_license_keys_used ON license_keys(used)`,
	`CREATE INDEX IF NOT EXISTS idx_license_keys_class ON license_keys(class)`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		subject_id TEXT PRIMARY KEY,
		activated_at BIGINT NOT NULL,
		expires_at BIGINT,
		updated_at BIGINT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entitlements_expires_at ON entitlements(expires_at)`,
}

// Migrate creates the tables and indexes if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
