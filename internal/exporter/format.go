package exporter

import (
	"time"

	"keyledger/pkg/contracts/domain"
)

// KeyHeaders is the column layout of every key export
var KeyHeaders = []string{"code", "class", "grant", "created_at", "used", "redeemed_by", "redeemed_at"}

// KeyRows renders keys as export rows matching KeyHeaders
func KeyRows(keys []domain.LicenseKey) [][]string {
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{
			key.Code,
			string(key.Class),
			key.Grant.String(),
			formatTime(&key.CreatedAt),
			formatBool(key.Used),
			formatString(key.RedeemedBy),
			formatTime(key.RedeemedAt),
		})
	}
	return rows
}

// formatTime renders t in UTC as RFC 3339, or empty when unset
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatBool formats a boolean value for CSV output
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
