package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyledger/internal/config"
	apperrors "keyledger/internal/errors"
)

type cli struct {
	t   *testing.T
	cfg *config.Config
}

func newCLI(t *testing.T) *cli {
	cfg := config.Default()
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "cli.db")
	cfg.Ops.MetricsEnabled = false
	return &cli{t: t, cfg: cfg}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := run(context.Background(), args, c.cfg, logger, &out)
	return out.String(), err
}

func TestIssueRedeemStatus(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("issue", "-count", "3", "-class", "7d")
	require.NoError(t, err)
	codes := strings.Fields(out)
	require.Len(t, codes, 3)

	out, err = c.run("redeem", "-code", codes[0], "-subject", "u1")
	require.NoError(t, err)
	assert.Equal(t, "redeemed 7d for u1\n", out)

	_, err = c.run("redeem", "-code", codes[0], "-subject", "u2")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyUsed)

	out, err = c.run("status", "-subject", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "entitled: true")
	assert.Contains(t, out, "remaining: 6d-23h-")

	out, err = c.run("stats")
	require.NoError(t, err)
	assert.Contains(t, out, "7d")
	assert.Contains(t, out, "all")
}

func TestGrantAndInspect(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("grant", "-subject", "vip", "-class", "perm")
	require.NoError(t, err)
	assert.Contains(t, out, `"subject_id": "vip"`)
	assert.NotContains(t, out, "expires_at")

	out, err = c.run("inspect", "-subject", "vip")
	require.NoError(t, err)
	assert.Contains(t, out, `"subject_id": "vip"`)

	out, err = c.run("inspect", "-subject", "nobody")
	require.NoError(t, err)
	assert.Equal(t, "null\n", out)

	out, err = c.run("entitlements", "-active")
	require.NoError(t, err)
	assert.Contains(t, out, "permanent")
}

func TestListRevokeExport(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("issue", "-count", "2", "-class", "90d", "-pretty")
	require.NoError(t, err)
	codes := strings.Fields(out)
	require.Len(t, codes, 2)
	assert.Contains(t, codes[0], "-")

	out, err = c.run("revoke", "-code", codes[0])
	require.NoError(t, err)
	assert.Contains(t, out, "revoked")

	out, err = c.run("list", "-state", "unused")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 2, "header and one key")

	path := filepath.Join(t.TempDir(), "keys.csv")
	out, err = c.run("export", "-out", path)
	require.NoError(t, err)
	assert.Equal(t, "exported 1 keys to "+path+"\n", out)
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)

	tests := [][]string{
		nil,
		{"bogus"},
		{"issue", "-unknown-flag"},
	}
	for _, args := range tests {
		_, err := c.run(args...)
		assert.ErrorIs(t, err, errUsage, "args %v", args)
	}
}

func TestVersion(t *testing.T) {
	out, err := newCLI(t).run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "keyledger v"))
}

func TestKeyFilterClassAliases(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("issue", "-count", "2", "-class", "30")
	require.NoError(t, err)
	_, err = c.run("issue", "-count", "1", "-class", "perm")
	require.NoError(t, err)

	tests := []struct {
		class string
		want  int
	}{
		{"30", 2},
		{"30days", 2},
		{"permanent", 1},
		{"7d", 0},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			out, err := c.run("list", "-class", tt.class)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out), "\n")
			assert.Len(t, lines, tt.want+1, "header plus matching keys")
		})
	}

	_, err = c.run("list", "-class", "14d")
	assert.ErrorIs(t, err, errUsage)

	_, err = c.run("export", "-class", "bogus", "-out", filepath.Join(t.TempDir(), "k.csv"))
	assert.ErrorIs(t, err, errUsage)
}
