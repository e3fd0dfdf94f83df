package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"keyledger/internal/config"
	apperrors "keyledger/internal/errors"
	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

// Issuer generates batches of unique keys
type Issuer struct {
	keys       storage.KeyStore
	codeBytes  int
	maxBatch   int
	maxRerolls int
	clock      func() time.Time
	generate   func(n int) (string, error)
	logger     *slog.Logger
	metrics    *Metrics
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithIssuerClock overrides the creation timestamp source
func WithIssuerClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) { i.clock = clock }
}

// WithIssuerLogger sets the logger
func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) { i.logger = logger }
}

// WithIssuerMetrics sets the metrics sink
func WithIssuerMetrics(m *Metrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// withCodeGenerator replaces the random source; tests use it to force collisions
func withCodeGenerator(gen func(n int) (string, error)) IssuerOption {
	return func(i *Issuer) { i.generate = gen }
}

// NewIssuer creates an issuer writing to keys
func NewIssuer(keys storage.KeyStore, cfg config.KeysConfig, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		keys:       keys,
		codeBytes:  cfg.CodeBytes,
		maxBatch:   cfg.MaxBatch,
		maxRerolls: cfg.MaxRerolls,
		clock:      time.Now,
		generate:   GenerateCode,
		logger:     slog.Default(),
		metrics:    NoopMetrics(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.maxRerolls < 1 {
		i.maxRerolls = 1
	}
	i.logger = i.logger.With(slog.String("component", "issuer"))
	return i
}

// CreateKeys generates count new codes of the given duration class and
// stores them. Either every code is stored and returned, or none is and an
// error is returned.
func (i *Issuer) CreateKeys(ctx context.Context, count int, classTag string) (codes []string, err error) {
	ctx, span := tracer().Start(ctx, "license.issue")
	defer func() { endSpan(span, err) }()

	if count < 1 || count > i.maxBatch {
		return nil, apperrors.NewInvalidRequestError(
			fmt.Sprintf("count must be between 1 and %d, got %d", i.maxBatch, count), nil)
	}
	class, err := domain.ParseClass(classTag)
	if err != nil {
		return nil, apperrors.NewInvalidRequestError("unknown duration class", err)
	}
	span.SetAttributes(attribute.Int("license.count", count), attribute.String("license.class", string(class)))

	defer func() {
		if err != nil {
			i.metrics.IssueFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(class))))
			i.logger.ErrorContext(ctx, "key batch aborted",
				slog.Int("count", count),
				slog.String("class", string(class)),
				slog.String("error", err.Error()))
		}
	}()

	for attempt := 0; attempt < i.maxRerolls; attempt++ {
		codes, err = i.uniqueCodes(ctx, count)
		if err != nil {
			return nil, err
		}

		now := i.clock()
		keys := make([]domain.LicenseKey, len(codes))
		for n, code := range codes {
			keys[n] = domain.LicenseKey{
				Code:      code,
				Grant:     class.Grant(),
				Class:     class,
				CreatedAt: now,
			}
		}

		err = i.keys.PutBatch(ctx, keys)
		if err == nil {
			i.metrics.KeysIssued.Add(ctx, int64(count), metric.WithAttributes(attribute.String("class", string(class))))
			logKeyAction(ctx, i.logger, slog.LevelInfo, "issue", "success", codes[0],
				slog.Int("count", count),
				slog.String("class", string(class)))
			return codes, nil
		}
		if !errors.Is(err, storage.ErrDuplicateCode) {
			return nil, apperrors.NewStorageError("failed to persist key batch; no keys were created", err)
		}
		// Another issuer stored one of our codes after we checked it.
		i.logger.WarnContext(ctx, "code collision during insert, regenerating batch",
			slog.Int("attempt", attempt+1))
	}

	return nil, apperrors.NewStorageError("failed to persist key batch; no keys were created",
		fmt.Errorf("gave up after %d collisions: %w", i.maxRerolls, storage.ErrDuplicateCode))
}

// uniqueCodes generates count codes that are distinct from each other and
// absent from the store, re-rolling collisions
func (i *Issuer) uniqueCodes(ctx context.Context, count int) ([]string, error) {
	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)

	for len(codes) < count {
		code, err := i.freshCode(ctx, seen)
		if err != nil {
			return nil, err
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

func (i *Issuer) freshCode(ctx context.Context, seen map[string]struct{}) (string, error) {
	for roll := 0; roll < i.maxRerolls; roll++ {
		code, err := i.generate(i.codeBytes)
		if err != nil {
			return "", apperrors.NewAppError(apperrors.KindInternal, "failed to generate code", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}

		_, err = i.keys.Lookup(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", apperrors.NewStorageError("failed to check code uniqueness; no keys were created", err)
		}
	}
	return "", apperrors.NewAppError(apperrors.KindInternal,
		fmt.Sprintf("could not generate a unique code in %d attempts", i.maxRerolls), nil)
}
