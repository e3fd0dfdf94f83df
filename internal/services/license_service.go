package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "keyledger/internal/errors"
	"keyledger/internal/exporter"
	"keyledger/internal/license"
	"keyledger/internal/storage"
	"keyledger/pkg/contracts/domain"
)

// LicenseService is the entry point used by the dispatch layer
type LicenseService interface {
	// Core operations
	Issue(ctx context.Context, count int, class string) ([]string, error)
	Redeem(ctx context.Context, code, subjectID string) (domain.Grant, error)
	IsEntitled(ctx context.Context, subjectID string) (bool, error)
	Remaining(ctx context.Context, subjectID string) (domain.Remaining, error)
	Inspect(ctx context.Context, subjectID string) (*domain.Entitlement, error)

	// Administration
	Grant(ctx context.Context, subjectID, class string) (*domain.Entitlement, error)
	RevokeKey(ctx context.Context, code string) error
	ListKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.LicenseKey, error)
	Stats(ctx context.Context) (*domain.KeyStats, error)
	ListEntitlements(ctx context.Context, activeOnly bool) ([]domain.Entitlement, error)
	ExportKeys(ctx context.Context, filePath string, filter domain.KeyFilter) (int, error)
}

// Components bundles the license components a LicenseService delegates to
type Components struct {
	Keys         storage.KeyStore
	Entitlements storage.EntitlementStore
	Issuer       *license.Issuer
	Redeemer     *license.Redeemer
	Query        *license.Query
}

// licenseService implements LicenseService
type licenseService struct {
	keys     storage.KeyStore
	ents     storage.EntitlementStore
	issuer   *license.Issuer
	redeemer *license.Redeemer
	query    *license.Query
	validate *validator.Validate
	clock    func() time.Time
	logger   *slog.Logger
}

// NewLicenseService creates a new license service
func NewLicenseService(c Components, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		keys:     c.Keys,
		ents:     c.Entitlements,
		issuer:   c.Issuer,
		redeemer: c.Redeemer,
		query:    c.Query,
		validate: validator.New(),
		clock:    time.Now,
		logger:   logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) Issue(ctx context.Context, count int, class string) ([]string, error) {
	return s.issuer.CreateKeys(ctx, count, class)
}

func (s *licenseService) Redeem(ctx context.Context, code, subjectID string) (domain.Grant, error) {
	return s.redeemer.Redeem(ctx, code, subjectID)
}

func (s *licenseService) IsEntitled(ctx context.Context, subjectID string) (bool, error) {
	return s.query.IsEntitled(ctx, subjectID)
}

func (s *licenseService) Remaining(ctx context.Context, subjectID string) (domain.Remaining, error) {
	return s.query.Remaining(ctx, subjectID)
}

func (s *licenseService) Inspect(ctx context.Context, subjectID string) (*domain.Entitlement, error) {
	return s.query.Inspect(ctx, subjectID)
}

// Grant credits a subject without a key, using the same stacking rule as a
// redemption. It is an operator action and is always logged.
func (s *licenseService) Grant(ctx context.Context, subjectID, classTag string) (*domain.Entitlement, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.NewInvalidRequestError("subject id is required", nil)
	}
	class, err := domain.ParseClass(classTag)
	if err != nil {
		return nil, apperrors.NewInvalidRequestError("unknown duration class", err)
	}

	ent, err := s.ents.Extend(ctx, subjectID, class.Grant(), s.clock(), license.Stack)
	if err != nil {
		s.logger.ErrorContext(ctx, "manual grant failed",
			slog.String("subject_id", subjectID),
			slog.String("class", string(class)),
			slog.String("error", err.Error()))
		return nil, apperrors.NewStorageError("failed to record entitlement", err)
	}
	s.query.Invalidate(subjectID)

	s.logger.InfoContext(ctx, "manual grant applied",
		slog.String("subject_id", subjectID),
		slog.String("class", string(class)),
		slog.Bool("permanent", ent.IsPermanent()))
	return ent, nil
}

// RevokeKey deletes a key that has not been redeemed
func (s *licenseService) RevokeKey(ctx context.Context, code string) error {
	code = license.NormalizeCode(code)
	if code == "" {
		return apperrors.NewInvalidRequestError("key code is required", nil)
	}

	err := s.keys.DeleteUnused(ctx, code)
	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "key revoked", slog.String("code_masked", license.MaskCode(code)))
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewInvalidKeyError("license key not found")
	case errors.Is(err, storage.ErrAlreadyUsed):
		return apperrors.NewAlreadyUsedError("redeemed keys cannot be revoked", err)
	default:
		return apperrors.NewStorageError("failed to revoke key", err)
	}
}

func (s *licenseService) ListKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.LicenseKey, error) {
	filter, err := s.normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	keys, err := s.keys.ListKeys(ctx, filter)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list keys", err)
	}
	return keys, nil
}

func (s *licenseService) Stats(ctx context.Context) (*domain.KeyStats, error) {
	stats, err := s.keys.Stats(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read key statistics", err)
	}
	return stats, nil
}

func (s *licenseService) ListEntitlements(ctx context.Context, activeOnly bool) ([]domain.Entitlement, error) {
	ents, err := s.ents.ListEntitlements(ctx, activeOnly, s.clock())
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list entitlements", err)
	}
	return ents, nil
}

// ExportKeys writes the keys matching filter to filePath (.xlsx or .csv)
func (s *licenseService) ExportKeys(ctx context.Context, filePath string, filter domain.KeyFilter) (int, error) {
	if strings.TrimSpace(filePath) == "" {
		return 0, apperrors.NewInvalidRequestError("export path is required", nil)
	}

	keys, err := s.ListKeys(ctx, filter)
	if err != nil {
		return 0, err
	}

	n, err := exporter.ExportKeys(filePath, keys, s.logger)
	if err != nil {
		return 0, apperrors.NewAppError(apperrors.KindInternal, "failed to write export", err)
	}

	s.logger.InfoContext(ctx, "keys exported",
		slog.String("file_path", filePath),
		slog.Int("count", n),
		slog.String("state", string(filter.State)))
	return n, nil
}

// normalizeFilter resolves class aliases and validates the filter
func (s *licenseService) normalizeFilter(filter domain.KeyFilter) (domain.KeyFilter, error) {
	if filter.State == "" {
		filter.State = domain.KeyStateAll
	}
	if filter.Class != "" {
		class, err := domain.ParseClass(string(filter.Class))
		if err != nil {
			return filter, apperrors.NewInvalidRequestError("unknown duration class", err)
		}
		filter.Class = class
	}
	if err := s.validate.Struct(filter); err != nil {
		return filter, apperrors.NewInvalidRequestError(fmt.Sprintf("invalid key filter: %v", err), err)
	}
	return filter, nil
}
