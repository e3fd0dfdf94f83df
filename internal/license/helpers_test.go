package license

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyledger/internal/config"
	"keyledger/internal/storage"
	"keyledger/internal/storage/sqlstore"
	"keyledger/pkg/contracts/domain"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	cfg := config.Default().Storage
	cfg.DSN = filepath.Join(t.TempDir(), "license.db")

	store, err := sqlstore.Open(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedKeys(t *testing.T, store storage.KeyStore, class domain.DurationClass, codes ...string) {
	t.Helper()
	keys := make([]domain.LicenseKey, len(codes))
	for i, code := range codes {
		keys[i] = domain.LicenseKey{Code: code, Grant: class.Grant(), Class: class, CreatedAt: baseTime}
	}
	require.NoError(t, store.PutBatch(context.Background(), keys))
}

// fakeClock is a settable clock shared by the components under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingEntitlements fails every Extend
type failingEntitlements struct {
	storage.EntitlementStore
	err error
}

func (f *failingEntitlements) Extend(context.Context, string, domain.Grant, time.Time, storage.StackFunc) (*domain.Entitlement, error) {
	return nil, f.err
}

// countingEntitlements counts Get calls against the wrapped store
type countingEntitlements struct {
	storage.EntitlementStore
	mu   sync.Mutex
	gets int
}

func (c *countingEntitlements) Get(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.EntitlementStore.Get(ctx, subjectID)
}

func (c *countingEntitlements) Gets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets
}

// flakyKeys lets tests replace MarkUsed and PutBatch behavior
type flakyKeys struct {
	storage.KeyStore
	markUsed func(ctx context.Context, code, subjectID string, at time.Time) error
	putBatch func(ctx context.Context, keys []domain.LicenseKey) error
}

func (f *flakyKeys) MarkUsed(ctx context.Context, code, subjectID string, at time.Time) error {
	if f.markUsed != nil {
		return f.markUsed(ctx, code, subjectID, at)
	}
	return f.KeyStore.MarkUsed(ctx, code, subjectID, at)
}

func (f *flakyKeys) PutBatch(ctx context.Context, keys []domain.LicenseKey) error {
	if f.putBatch != nil {
		return f.putBatch(ctx, keys)
	}
	return f.KeyStore.PutBatch(ctx, keys)
}

type txStoresOverride struct {
	keys storage.KeyStore
	ents storage.EntitlementStore
}

func (s txStoresOverride) Keys() storage.KeyStore                 { return s.keys }
func (s txStoresOverride) Entitlements() storage.EntitlementStore { return s.ents }

// brokenExtendTx runs real transactions whose entitlement writes fail
type brokenExtendTx struct {
	store *sqlstore.Store
	err   error
}

func (b brokenExtendTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Stores) error) error {
	return b.store.WithinTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		return fn(ctx, txStoresOverride{
			keys: tx.Keys(),
			ents: &failingEntitlements{EntitlementStore: tx.Entitlements(), err: b.err},
		})
	})
}

type recordingInvalidator struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingInvalidator) Invalidate(subjectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subjectID)
}

func daysAfter(t time.Time, days int) time.Time {
	return t.Add(time.Duration(days) * domain.Day)
}

// blockingEntitlements holds every Get until release is closed or the read's
// context ends
type blockingEntitlements struct {
	storage.EntitlementStore
	started     chan struct{}
	release     chan struct{}
	startedOnce sync.Once
}

func newBlockingEntitlements(store storage.EntitlementStore) *blockingEntitlements {
	return &blockingEntitlements{
		EntitlementStore: store,
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (b *blockingEntitlements) Get(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	b.startedOnce.Do(func() { close(b.started) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.EntitlementStore.Get(ctx, subjectID)
}
