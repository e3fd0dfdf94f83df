package license

import (
	"time"

	"keyledger/pkg/contracts/domain"
)

// Stack applies grant to current at now and returns the resulting
// entitlement. current is nil when the subject has none.
//
// Expired or missing entitlements restart at now; active ones are extended
// from their expiry. Permanent is absorbing in both directions.
func Stack(current *domain.Entitlement, subjectID string, grant domain.Grant, now time.Time) domain.Entitlement {
	next := domain.Entitlement{
		SubjectID:   subjectID,
		ActivatedAt: now,
		UpdatedAt:   now,
	}

	active := current.IsActive(now)
	if active {
		next.ActivatedAt = current.ActivatedAt
	}

	if current.IsPermanent() || grant.Permanent {
		next.ExpiresAt = nil
		return next
	}

	base := now
	if active {
		base = *current.ExpiresAt
	}
	expires := base.Add(grant.Duration())
	next.ExpiresAt = &expires
	return next
}
