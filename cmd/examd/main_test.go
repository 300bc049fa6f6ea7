package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func setupCLIEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("REDIS_URL", "")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("JWT_SECRET", "cli-test-secret")
	return "sqlite://" + filepath.Join(dir, "exam.db")
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://from-env.db")
	t.Setenv("SWEEP_INTERVAL", "5m")

	cmd := serveCmd()
	cmd.Flags().String("database-url", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9090", "--sweep-interval", "30s"}))

	cfg, _, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, "sqlite://from-env.db", cfg.DatabaseURL)
}

func TestUserAddListAndToken(t *testing.T) {
	dbURL := setupCLIEnv(t)

	out := runCLI(t, "user", "add", "--database-url", dbURL,
		"--username", "ada", "--role", "teacher", "--full-name", "Ada Lovelace")
	assert.Contains(t, out, `created teacher "ada"`)

	out = runCLI(t, "user", "list", "--database-url", dbURL, "--role", "teacher")
	assert.Contains(t, out, "ada")

	out = runCLI(t, "token", "--database-url", dbURL, "--username", "ada", "--ttl", "1h")
	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	tokens, err := auth.NewTokenManager("cli-test-secret", time.Hour)
	require.NoError(t, err)
	claims, err := tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ada", claims.Username)
}

func TestSweepOnEmptyDatabase(t *testing.T) {
	dbURL := setupCLIEnv(t)

	runCLI(t, "migrate", "--database-url", dbURL)
	out := runCLI(t, "sweep", "--database-url", dbURL)
	assert.Contains(t, out, "expired 0 attempt(s)")
}

func TestExportRequiresTeacher(t *testing.T) {
	dbURL := setupCLIEnv(t)

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", "--database-url", dbURL, "--exam-id", "1", "--teacher", "nobody",
		"-o", filepath.Join(t.TempDir(), "out.xlsx")})
	assert.Error(t, cmd.Execute())
}
