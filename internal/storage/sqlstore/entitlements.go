package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

// maxExtendAttempts bounds the optimistic retry loop in Extend
const maxExtendAttempts = 16

const entitlementColumns = `subject_id, activated_at, expires_at, updated_at, version`

type entitlementStore struct {
	q       querier
	dialect dialect
	timeout time.Duration
}

// Get returns the subject's entitlement
func (e *entitlementStore) Get(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	ctx, cancel := bounded(ctx, e.timeout)
	defer cancel()
	return e.get(ctx, subjectID)
}

func (e *entitlementStore) get(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	row := e.q.QueryRowContext(ctx,
		e.dialect.rebind(`SELECT `+entitlementColumns+` FROM entitlements WHERE subject_id = ?`), subjectID)

	ent, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return ent, nil
}

// Extend applies a grant with an optimistic version check. A lost race
// re-reads the row and recomputes, so concurrent grants for one subject all
// stack.
func (e *entitlementStore) Extend(ctx context.Context, subjectID string, grant domain.Grant, now time.Time, next storage.StackFunc) (*domain.Entitlement, error) {
	ctx, cancel := bounded(ctx, e.timeout)
	defer cancel()

	for attempt := 0; attempt < maxExtendAttempts; attempt++ {
		current, err := e.get(ctx, subjectID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		if current == nil {
			ent := next(nil, subjectID, grant, now)
			ent.Version = 1
			ok, err := e.insert(ctx, ent)
			if err != nil {
				return nil, err
			}
			if ok {
				return &ent, nil
			}
			continue
		}

		ent := next(current, subjectID, grant, now)
		ent.Version = current.Version + 1
		ok, err := e.update(ctx, ent, current.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			return &ent, nil
		}
	}

	return nil, fmt.Errorf("extend entitlement for %s: %w", subjectID, storage.ErrConflict)
}

func (e *entitlementStore) insert(ctx context.Context, ent domain.Entitlement) (bool, error) {
	res, err := e.q.ExecContext(ctx, e.dialect.rebind(
		`INSERT INTO entitlements (subject_id, activated_at, expires_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (subject_id) DO NOTHING`),
		ent.SubjectID, toNanos(ent.ActivatedAt), nullableNanos(ent.ExpiresAt), toNanos(ent.UpdatedAt), ent.Version)
	if err != nil {
		return false, fmt.Errorf("failed to insert entitlement: %w", err)
	}
	return affectedOne(res)
}

func (e *entitlementStore) update(ctx context.Context, ent domain.Entitlement, expectedVersion int64) (bool, error) {
	res, err := e.q.ExecContext(ctx, e.dialect.rebind(
		`UPDATE entitlements SET activated_at = ?, expires_at = ?, updated_at = ?, version = ?
		 WHERE subject_id = ? AND version = ?`),
		toNanos(ent.ActivatedAt), nullableNanos(ent.ExpiresAt), toNanos(ent.UpdatedAt), ent.Version,
		ent.SubjectID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("failed to update entitlement: %w", err)
	}
	return affectedOne(res)
}

// ListEntitlements returns entitlements ordered by subject
func (e *entitlementStore) ListEntitlements(ctx context.Context, activeOnly bool, now time.Time) ([]domain.Entitlement, error) {
	ctx, cancel := bounded(ctx, e.timeout)
	defer cancel()

	query := `SELECT ` + entitlementColumns + ` FROM entitlements`
	var args []any
	if activeOnly {
		query += ` WHERE expires_at IS NULL OR expires_at > ?`
		args = append(args, toNanos(now))
	}
	query += ` ORDER BY subject_id`

	rows, err := e.q.QueryContext(ctx, e.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		ent, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, *ent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entitlements: %w", err)
	}
	return out, nil
}

// CountActive counts entitlements that grant access at now
func (e *entitlementStore) CountActive(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := bounded(ctx, e.timeout)
	defer cancel()

	var n int64
	err := e.q.QueryRowContext(ctx, e.dialect.rebind(
		`SELECT COUNT(*) FROM entitlements WHERE expires_at IS NULL OR expires_at > ?`),
		toNanos(now)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active entitlements: %w", err)
	}
	return int(n), nil
}

func scanEntitlement(s scanner) (*domain.Entitlement, error) {
	var (
		ent         domain.Entitlement
		activatedAt int64
		expiresAt   sql.NullInt64
		updatedAt   int64
	)
	if err := s.Scan(&ent.SubjectID, &activatedAt, &expiresAt, &updatedAt, &ent.Version); err != nil {
		return nil, err
	}
	ent.ActivatedAt = fromNanos(activatedAt)
	ent.ExpiresAt = timePtr(expiresAt)
	ent.UpdatedAt = fromNanos(updatedAt)
	return &ent, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
