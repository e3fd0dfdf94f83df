package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(8)
	require.NoError(t, err)
	assert.Len(t, code, 16)
	assert.Regexp(t, `^[0-9A-F]+$`, code)

	other, err := GenerateCode(8)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already canonical", "AB12CD34EF56", "AB12CD34EF56"},
		{"lowercase", "ab12cd34", "AB12CD34"},
		{"dashes", "AB12-CD34-EF56", "AB12CD34EF56"},
		{"surrounding whitespace", "  ab12-cd34 \n", "AB12CD34"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCode(tt.in))
		})
	}
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "AB12-CD34-EF56-7890", FormatCode("ab12cd34ef567890"))
	assert.Equal(t, "AB12-CD", FormatCode("AB12CD"))
	assert.Equal(t, "AB1", FormatCode("ab1"))
	assert.Equal(t, NormalizeCode(FormatCode("AB12CD34")), "AB12CD34")
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "AB12****7890", MaskCode("AB12CD34EF567890"))
	assert.Equal(t, "****", MaskCode("AB12CD34"))
	assert.Equal(t, "****", MaskCode(""))
}

func TestFingerprintCode(t *testing.T) {
	fp := FingerprintCode("AB12CD34EF567890")
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, FingerprintCode("AB12CD34EF567890"))
	assert.NotEqual(t, fp, FingerprintCode("AB12CD34EF567891"))
	assert.Empty(t, FingerprintCode(""))
}
