package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "keyledger/internal/errors"
	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

const defaultRecheckTimeout = 5 * time.Second

// Invalidator drops cached entitlement state for a subject
type Invalidator interface {
	Invalidate(subjectID string)
}

// Redeemer consumes keys and credits the redeeming subject
type Redeemer struct {
	keys           storage.KeyStore
	ents           storage.EntitlementStore
	tx             storage.Transactor
	limiter        *RedeemLimiter
	invalidator    Invalidator
	clock          func() time.Time
	recheckTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

// RedeemerOption configures a Redeemer
type RedeemerOption func(*Redeemer)

// WithTransactor runs the consume and the extension in one transaction
func WithTransactor(tx storage.Transactor) RedeemerOption {
	return func(r *Redeemer) { r.tx = tx }
}

// WithLimiter enables per-subject rate limiting
func WithLimiter(l *RedeemLimiter) RedeemerOption {
	return func(r *Redeemer) { r.limiter = l }
}

// WithInvalidator is notified after every successful redemption
func WithInvalidator(inv Invalidator) RedeemerOption {
	return func(r *Redeemer) { r.invalidator = inv }
}

// WithClock overrides the redemption timestamp source
func WithClock(clock func() time.Time) RedeemerOption {
	return func(r *Redeemer) { r.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) RedeemerOption {
	return func(r *Redeemer) { r.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *Metrics) RedeemerOption {
	return func(r *Redeemer) { r.metrics = m }
}

// WithRecheckTimeout bounds the lookup that resolves an ambiguous consume
func WithRecheckTimeout(d time.Duration) RedeemerOption {
	return func(r *Redeemer) { r.recheckTimeout = d }
}

// NewRedeemer creates a redeemer over the given stores
func NewRedeemer(keys storage.KeyStore, ents storage.EntitlementStore, opts ...RedeemerOption) *Redeemer {
	r := &Redeemer{
		keys:           keys,
		ents:           ents,
		clock:          time.Now,
		recheckTimeout: defaultRecheckTimeout,
		logger:         slog.Default(),
		metrics:        NoopMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "redeemer"))
	return r
}

// Redeem consumes code on behalf of subjectID and extends the subject's
// entitlement by the key's grant. Exactly one concurrent caller wins a code;
// the others get ErrAlreadyUsed.
func (r *Redeemer) Redeem(ctx context.Context, code, subjectID string) (grant domain.Grant, err error) {
	start := time.Now()
	class := "unknown"

	ctx, span := tracer().Start(ctx, "license.redeem")
	defer func() {
		r.metrics.recordRedeem(ctx, start, class, err)
		endSpan(span, err)
	}()

	code = NormalizeCode(code)
	subjectID = strings.TrimSpace(subjectID)
	if code == "" {
		return domain.Grant{}, apperrors.NewInvalidRequestError("key code is required", nil)
	}
	if subjectID == "" {
		return domain.Grant{}, apperrors.NewInvalidRequestError("subject id is required", nil)
	}
	span.SetAttributes(attribute.String("license.code_fingerprint", FingerprintCode(code)))

	if !r.limiter.Allow(subjectID) {
		logKeyAction(ctx, r.logger, slog.LevelWarn, "redeem", "rate_limited", code,
			slog.String("subject_id", subjectID))
		return domain.Grant{}, apperrors.NewRateLimitedError("too many redemption attempts")
	}

	key, err := r.keys.Lookup(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		logKeyAction(ctx, r.logger, slog.LevelInfo, "redeem", "invalid_key", code,
			slog.String("subject_id", subjectID))
		return domain.Grant{}, apperrors.NewInvalidKeyError("license key not found")
	}
	if err != nil {
		return domain.Grant{}, apperrors.NewStorageError("failed to look up key", err)
	}

	class = string(key.Class)
	if key.Used {
		logKeyAction(ctx, r.logger, slog.LevelInfo, "redeem", "already_used", code,
			slog.String("subject_id", subjectID))
		return domain.Grant{}, apperrors.NewAlreadyUsedError("license key already redeemed", nil)
	}

	now := r.clock()
	if r.tx != nil {
		err = r.consumeAtomically(ctx, code, subjectID, key.Grant, now)
	} else {
		err = r.consumeThenExtend(ctx, code, subjectID, key.Grant, now)
	}
	if err != nil {
		return domain.Grant{}, err
	}

	if r.invalidator != nil {
		r.invalidator.Invalidate(subjectID)
	}
	logKeyAction(ctx, r.logger, slog.LevelInfo, "redeem", "success", code,
		slog.String("subject_id", subjectID),
		slog.String("grant", key.Grant.String()))

	return key.Grant, nil
}

// consumeAtomically marks the key used and extends the entitlement in one
// transaction. A failure leaves the key unconsumed.
func (r *Redeemer) consumeAtomically(ctx context.Context, code, subjectID string, grant domain.Grant, now time.Time) error {
	err := r.tx.WithinTx(ctx, func(ctx context.Context, tx storage.Stores) error {
		if err := tx.Keys().MarkUsed(ctx, code, subjectID, now); err != nil {
			return err
		}
		_, err := tx.Entitlements().Extend(ctx, subjectID, grant, now, Stack)
		return err
	})
	if err == nil {
		return nil
	}
	if mapped := r.mapConsumeError(ctx, code, subjectID, err); mapped != nil {
		return mapped
	}

	// The commit may have landed even though the driver reported an error.
	return r.resolveAmbiguous(ctx, code, subjectID, now, err)
}

// consumeThenExtend is used when the stores cannot share a transaction.
func (r *Redeemer) consumeThenExtend(ctx context.Context, code, subjectID string, grant domain.Grant, now time.Time) error {
	if err := r.keys.MarkUsed(ctx, code, subjectID, now); err != nil {
		if mapped := r.mapConsumeError(ctx, code, subjectID, err); mapped != nil {
			return mapped
		}
		if err := r.resolveAmbiguous(ctx, code, subjectID, now, err); err != nil {
			return err
		}
	}

	if _, err := r.ents.Extend(ctx, subjectID, grant, now, Stack); err != nil {
		r.metrics.RedeemAnomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("class", grant.String())))
		logKeyAction(ctx, r.logger, slog.LevelError, "redeem", "entitlement_write_failed", code,
			slog.String("subject_id", subjectID),
			slog.String("grant", grant.String()),
			slog.Time("redeemed_at", now),
			slog.String("error", err.Error()))
		return apperrors.NewEntitlementWriteError("key consumed but entitlement not recorded", err)
	}
	return nil
}

// mapConsumeError translates definite consume failures. It returns nil for
// errors whose outcome is unknown.
func (r *Redeemer) mapConsumeError(ctx context.Context, code, subjectID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyUsed):
		logKeyAction(ctx, r.logger, slog.LevelInfo, "redeem", "lost_race", code,
			slog.String("subject_id", subjectID))
		return apperrors.NewAlreadyUsedError("license key already redeemed", err)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewInvalidKeyError("license key not found")
	default:
		return nil
	}
}

// resolveAmbiguous re-reads the key after a consume whose outcome is unknown.
// It returns nil when the key was consumed by this attempt.
func (r *Redeemer) resolveAmbiguous(ctx context.Context, code, subjectID string, now time.Time, cause error) error {
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.recheckTimeout)
	defer cancel()

	key, err := r.keys.Lookup(checkCtx, code)
	if err != nil {
		r.logger.ErrorContext(ctx, "redemption outcome unknown",
			slog.String("code_masked", MaskCode(code)),
			slog.String("subject_id", subjectID),
			slog.String("error", cause.Error()),
			slog.String("recheck_error", err.Error()))
		return apperrors.NewStorageError("redemption outcome unknown; check status before retrying", cause)
	}

	switch {
	case !key.Used:
		return apperrors.NewStorageError("redemption failed; key was not consumed", cause)
	case consumedBy(key, subjectID, now):
		logKeyAction(ctx, r.logger, slog.LevelWarn, "redeem", "recovered", code,
			slog.String("subject_id", subjectID),
			slog.String("error", cause.Error()))
		return nil
	default:
		return apperrors.NewAlreadyUsedError("license key already redeemed", cause)
	}
}

func consumedBy(key *domain.LicenseKey, subjectID string, at time.Time) bool {
	return key.RedeemedBy != nil && *key.RedeemedBy == subjectID &&
		key.RedeemedAt != nil && key.RedeemedAt.Equal(at)
}
