// Package services implements the business logic layer of keyledger.
// It composes the license components and the storage backend into the
// operations exposed to the dispatch layer (CLI, bot adapters, ops server).
//
// # Available Services
//
//   - LicenseService: issue, redeem, entitlement queries and key administration
//   - HealthService: liveness and storage readiness checks
//
// # Error Handling
//
// Every method returns errors from internal/errors; callers branch on
// errors.Is(err, apperrors.ErrAlreadyUsed) and friends or on
// apperrors.KindOf(err).
//
// # Testing
//
// Services are tested against a SQLite store in a temporary directory;
// collaborators outside the store are mocked with testify/mock.
package services
