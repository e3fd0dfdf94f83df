// Package license issues, redeems and answers queries about license keys.
//
// # Components
//
//   - Issuer: generates batches of unique single-use codes for a duration class
//   - Redeemer: validates a code, consumes it exactly once and extends the
//     subject's entitlement
//   - Query: read-only "is entitled" and "time remaining" lookups, cached
//
// # Redemption
//
// A code is consumed by one conditional write in the KeyStore; concurrent
// redeemers of the same code see exactly one success and AlreadyUsed for the
// rest. When the backend implements storage.Transactor, the consume and the
// entitlement extension commit together. Otherwise an extension failure after
// the consume is reported as EntitlementWriteFailed and logged for
// reconciliation; the code is never released again.
//
// # Stacking
//
// Redeeming while an entitlement is active adds to its expiry. Redeeming
// after expiry starts a fresh window at now. A permanent grant makes the
// entitlement permanent for good; later finite grants leave it permanent.
package license
