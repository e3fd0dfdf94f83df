package license

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// GenerateCode returns a random code of n bytes rendered as uppercase hex
func GenerateCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// NormalizeCode strips whitespace and dashes and uppercases the code, so
// "ab12-cd34 ef56" and "AB12CD34EF56" redeem the same key.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, code))
}

// FormatCode groups a code in blocks of four for display
func FormatCode(code string) string {
	clean := NormalizeCode(code)
	if len(clean) <= 4 {
		return clean
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 4
		if end > len(clean) {
			end = len(clean)
		}
		b.WriteString(clean[i:end])
	}
	return b.String()
}

// MaskCode hides the middle of a code for logs
func MaskCode(code string) string {
	if len(code) <= 8 {
		return "****"
	}
	return code[:4] + "****" + code[len(code)-4:]
}

// FingerprintCode returns a short stable digest for correlating log lines
// without revealing the code
func FingerprintCode(code string) string {
	if code == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:8])
}
