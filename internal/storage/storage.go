// Package storage defines the persistence contracts for license keys and
// entitlements. Backends live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"keyledger/pkg/contracts/domain"
)

// Errors returned by every backend. Callers match them with errors.Is.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyUsed   = errors.New("key already used")
	ErrDuplicateCode = errors.New("duplicate key code")
	ErrConflict      = errors.New("concurrent update conflict")
)

// KeyStore is the durable record of every generated key.
type KeyStore interface {
	// Lookup returns the key or ErrNotFound.
	Lookup(ctx context.Context, code string) (*domain.LicenseKey, error)
	// MarkUsed flips used false->true in a single conditional write.
	// It returns ErrAlreadyUsed if the key was consumed before and
	// ErrNotFound if it does not exist.
	MarkUsed(ctx context.Context, code, subjectID string, at time.Time) error
	// PutBatch stores all keys or none. A code that already exists fails the
	// whole batch with ErrDuplicateCode.
	PutBatch(ctx context.Context, keys []domain.LicenseKey) error
	ListKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.LicenseKey, error)
	Stats(ctx context.Context) (*domain.KeyStats, error)
	// DeleteUnused removes a key that was never redeemed. Used keys are audit
	// records and yield ErrAlreadyUsed.
	DeleteUnused(ctx context.Context, code string) error
}

// EntitlementStore is the durable per-subject expiration record.
type EntitlementStore interface {
	// Get returns the subject's entitlement or ErrNotFound.
	Get(ctx context.Context, subjectID string) (*domain.Entitlement, error)
	// Extend applies grant to the subject's entitlement at now using the
	// stacking rule computed by next.
	Extend(ctx context.Context, subjectID string, grant domain.Grant, now time.Time, next StackFunc) (*domain.Entitlement, error)
	ListEntitlements(ctx context.Context, activeOnly bool, now time.Time) ([]domain.Entitlement, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
}

// StackFunc computes the entitlement that results from applying grant to
// current (nil when the subject has none) at now.
type StackFunc func(current *domain.Entitlement, subjectID string, grant domain.Grant, now time.Time) domain.Entitlement

// Stores bundles the key and entitlement stores of one transaction.
type Stores interface {
	Keys() KeyStore
	Entitlements() EntitlementStore
}

// Transactor is implemented by backends that hold keys and entitlements in
// one database and can run both writes atomically. fn's writes are committed
// only if it returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// Pinger reports backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
