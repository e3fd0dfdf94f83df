// Package domain contains the core domain models for keyledger.
// These types are shared by the storage backends, the license package and the
// service facade.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Day is the length of one entitlement day.
const Day = 24 * time.Hour

// Grant is the entitlement carried by a license key: a number of days or
// permanent access.
type Grant struct {
	Days      int  `json:"days,omitempty" validate:"min=0"`
	Permanent bool `json:"permanent"`
}

// PermanentGrant returns a grant that never expires.
func PermanentGrant() Grant {
	return Grant{Permanent: true}
}

// DaysGrant returns a finite grant of the given number of days.
func DaysGrant(days int) Grant {
	return Grant{Days: days}
}

// Duration returns the finite length of the grant. Permanent grants return 0.
func (g Grant) Duration() time.Duration {
	if g.Permanent {
		return 0
	}
	return time.Duration(g.Days) * Day
}

func (g Grant) String() string {
	if g.Permanent {
		return "permanent"
	}
	return fmt.Sprintf("%dd", g.Days)
}

// LicenseKey is a single-use code and its consumption state.
// Used is true iff RedeemedBy is set.
type LicenseKey struct {
	Code       string        `json:"code" db:"code" validate:"required"`
	Grant      Grant         `json:"grant"`
	Class      DurationClass `json:"class" db:"class"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	Used       bool          `json:"used" db:"used"`
	RedeemedBy *string       `json:"redeemed_by,omitempty" db:"redeemed_by"`
	RedeemedAt *time.Time    `json:"redeemed_at,omitempty" db:"redeemed_at"`
}

// Entitlement is a subject's access window. A nil ExpiresAt means permanent.
type Entitlement struct {
	SubjectID   string     `json:"subject_id" db:"subject_id" validate:"required"`
	ActivatedAt time.Time  `json:"activated_at" db:"activated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	Version     int64      `json:"version" db:"version"`
}

// IsPermanent reports whether the entitlement never expires.
func (e *Entitlement) IsPermanent() bool {
	return e != nil && e.ExpiresAt == nil
}

// IsActive reports whether the entitlement grants access at now.
func (e *Entitlement) IsActive(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.ExpiresAt == nil {
		return true
	}
	return e.ExpiresAt.After(now)
}

// Remaining returns the access time left at now.
func (e *Entitlement) Remaining(now time.Time) Remaining {
	if e == nil {
		return Remaining{}
	}
	if e.ExpiresAt == nil {
		return Remaining{Permanent: true}
	}
	left := e.ExpiresAt.Sub(now)
	if left <= 0 {
		return Remaining{}
	}
	return Remaining{Duration: left}
}

// Remaining is the time an entitlement still grants: a duration, permanent,
// or zero.
type Remaining struct {
	Permanent bool          `json:"permanent"`
	Duration  time.Duration `json:"duration"`
}

// IsZero reports whether no access time is left.
func (r Remaining) IsZero() bool {
	return !r.Permanent && r.Duration <= 0
}

// String renders the remaining time as "permanent" or "Xd-Xh-Xm-Xs".
func (r Remaining) String() string {
	if r.Permanent {
		return "permanent"
	}
	d := r.Duration
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dd-%dh-%dm-%ds", days, hours, minutes, seconds)
}

// DurationClass tags a key with its entitlement length.
type DurationClass string

const (
	Class7Days     DurationClass = "7d"
	Class30Days    DurationClass = "30d"
	Class90Days    DurationClass = "90d"
	ClassPermanent DurationClass = "perm"
)

// Classes lists every supported duration class in display order.
var Classes = []DurationClass{Class7Days, Class30Days, Class90Days, ClassPermanent}

var classAliases = map[string]DurationClass{
	"7d":        Class7Days,
	"7":         Class7Days,
	"7days":     Class7Days,
	"30d":       Class30Days,
	"30":        Class30Days,
	"30days":    Class30Days,
	"90d":       Class90Days,
	"90":        Class90Days,
	"90days":    Class90Days,
	"perm":      ClassPermanent,
	"permanent": ClassPermanent,
	"forever":   ClassPermanent,
}

// ParseClass resolves a class tag or one of its aliases.
func ParseClass(s string) (DurationClass, error) {
	class, ok := classAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown duration class %q", s)
	}
	return class, nil
}

// Grant returns the entitlement a key of this class carries.
func (c DurationClass) Grant() Grant {
	switch c {
	case Class7Days:
		return DaysGrant(7)
	case Class30Days:
		return DaysGrant(30)
	case Class90Days:
		return DaysGrant(90)
	default:
		return PermanentGrant()
	}
}

// KeyState filters keys by consumption state.
type KeyState string

const (
	KeyStateAll    KeyState = "all"
	KeyStateUsed   KeyState = "used"
	KeyStateUnused KeyState = "unused"
)

// KeyFilter selects keys for listing.
type KeyFilter struct {
	State KeyState      `json:"state" validate:"omitempty,oneof=all used unused"`
	Class DurationClass `json:"class,omitempty"`
	Limit int           `json:"limit,omitempty" validate:"min=0"`
}

// ClassStats counts keys of one class.
type ClassStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// KeyStats summarizes the key inventory.
type KeyStats struct {
	Total     int                          `json:"total"`
	Used      int                          `json:"used"`
	Available int                          `json:"available"`
	ByClass   map[DurationClass]ClassStats `json:"by_class"`
}
