package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

const keyColumns = `code, entitlement_days, class, created_at, used, redeemed_by, redeemed_at`

type keyStore struct {
	q       querier
	db      *sql.DB // nil when bound to an outer transaction
	dialect dialect
	timeout time.Duration
}

// Lookup returns the key with the given code
func (k *keyStore) Lookup(ctx context.Context, code string) (*domain.LicenseKey, error) {
	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	row := k.q.QueryRowContext(ctx,
		k.dialect.rebind(`SELECT `+keyColumns+` FROM license_keys WHERE code = ?`), code)

	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up key: %w", err)
	}
	return key, nil
}

// MarkUsed consumes the key with a single conditional update
func (k *keyStore) MarkUsed(ctx context.Context, code, subjectID string, at time.Time) error {
	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	res, err := k.q.ExecContext(ctx, k.dialect.rebind(
		`UPDATE license_keys SET used = 1, redeemed_by = ?, redeemed_at = ?
		 WHERE code = ? AND used = 0`),
		subjectID, toNanos(at), code)
	if err != nil {
		return fmt.Errorf("failed to mark key used: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	return k.explainMiss(ctx, code)
}

// PutBatch inserts every key or none
func (k *keyStore) PutBatch(ctx context.Context, keys []domain.LicenseKey) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	if k.db == nil {
		return k.insertAll(ctx, k.q, keys)
	}

	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := k.insertAll(ctx, tx, keys); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key batch: %w", err)
	}
	return nil
}

func (k *keyStore) insertAll(ctx context.Context, q querier, keys []domain.LicenseKey) error {
	stmt := k.dialect.rebind(
		`INSERT INTO license_keys (code, entitlement_days, class, created_at, used)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT (code) DO NOTHING`)

	for _, key := range keys {
		res, err := q.ExecContext(ctx, stmt, key.Code, grantDays(key.Grant), string(key.Class), toNanos(key.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("insert %s: %w", key.Code, storage.ErrDuplicateCode)
		}
	}
	return nil
}

// ListKeys returns keys matching filter, oldest first
func (k *keyStore) ListKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.LicenseKey, error) {
	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	switch filter.State {
	case domain.KeyStateUsed:
		where = append(where, "used = 1")
	case domain.KeyStateUnused:
		where = append(where, "used = 0")
	}
	if filter.Class != "" {
		where = append(where, "class = ?")
		args = append(args, string(filter.Class))
	}

	query := `SELECT ` + keyColumns + ` FROM license_keys`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, code"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := k.q.QueryContext(ctx, k.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.LicenseKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, *key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keys: %w", err)
	}
	return keys, nil
}

// Stats counts keys per class and state
func (k *keyStore) Stats(ctx context.Context) (*domain.KeyStats, error) {
	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	rows, err := k.q.QueryContext(ctx,
		`SELECT class, COUNT(*), SUM(CASE WHEN used = 0 THEN 1 ELSE 0 END)
		 FROM license_keys GROUP BY class`)
	if err != nil {
		return nil, fmt.Errorf("failed to query key stats: %w", err)
	}
	defer rows.Close()

	stats := &domain.KeyStats{ByClass: make(map[domain.DurationClass]domain.ClassStats)}
	for rows.Next() {
		var (
			class            string
			total, available int64
		)
		if err := rows.Scan(&class, &total, &available); err != nil {
			return nil, fmt.Errorf("failed to scan key stats: %w", err)
		}
		stats.ByClass[domain.DurationClass(class)] = domain.ClassStats{
			Total:     int(total),
			Available: int(available),
		}
		stats.Total += int(total)
		stats.Available += int(available)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate key stats: %w", err)
	}
	stats.Used = stats.Total - stats.Available
	return stats, nil
}

// DeleteUnused removes a key that was never redeemed
func (k *keyStore) DeleteUnused(ctx context.Context, code string) error {
	ctx, cancel := bounded(ctx, k.timeout)
	defer cancel()

	res, err := k.q.ExecContext(ctx,
		k.dialect.rebind(`DELETE FROM license_keys WHERE code = ? AND used = 0`), code)
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	return k.explainMiss(ctx, code)
}

// explainMiss tells a missing key from a consumed one after a conditional
// write matched no rows
func (k *keyStore) explainMiss(ctx context.Context, code string) error {
	var used int64
	err := k.q.QueryRowContext(ctx,
		k.dialect.rebind(`SELECT used FROM license_keys WHERE code = ?`), code).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to re-read key state: %w", err)
	}
	return storage.ErrAlreadyUsed
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(s scanner) (*domain.LicenseKey, error) {
	var (
		key        domain.LicenseKey
		days       sql.NullInt64
		class      string
		createdAt  int64
		used       int64
		redeemedBy sql.NullString
		redeemedAt sql.NullInt64
	)
	if err := s.Scan(&key.Code, &days, &class, &createdAt, &used, &redeemedBy, &redeemedAt); err != nil {
		return nil, err
	}

	if days.Valid {
		key.Grant = domain.DaysGrant(int(days.Int64))
	} else {
		key.Grant = domain.PermanentGrant()
	}
	key.Class = domain.DurationClass(class)
	key.CreatedAt = fromNanos(createdAt)
	key.Used = used == 1
	if redeemedBy.Valid {
		subject := redeemedBy.String
		key.RedeemedBy = &subject
	}
	key.RedeemedAt = timePtr(redeemedAt)
	return &key, nil
}

func grantDays(g domain.Grant) sql.NullInt64 {
	if g.Permanent {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(g.Days), Valid: true}
}
