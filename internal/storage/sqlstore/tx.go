package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"keyledger/internal/storage"
)

// txStores binds the key and entitlement stores to one transaction
type txStores struct {
	keys *keyStore
	ents *entitlementStore
}

func (t *txStores) Keys() storage.KeyStore {
	return t.keys
}

func (t *txStores) Entitlements() storage.EntitlementStore {
	return t.ents
}

// WithinTx runs fn in a transaction and commits only if fn returns nil
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Stores) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stores := &txStores{
		keys: &keyStore{q: tx, dialect: s.dialect, timeout: s.timeout},
		ents: &entitlementStore{q: tx, dialect: s.dialect, timeout: s.timeout},
	}

	if err := fn(ctx, stores); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "transaction rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
