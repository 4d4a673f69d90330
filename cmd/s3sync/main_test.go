package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadConfigEnv(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("S3SYNC_SOURCE", "/data/src")
	t.Setenv("S3SYNC_DESTINATION", "default:bucket/path")
	t.Setenv("S3SYNC_CACHE_DIR", cacheDir)
	t.Setenv("S3SYNC_VERBOSITY", "2")
	t.Setenv("S3SYNC_RESCAN_INTERVAL", "1m")
	t.Setenv("S3SYNC_WATCH", "true")

	cfg, err := loadConfig(newRootCmd(), viper.New())
	require.NoError(t, err)

	assert.Equal(t, "/data/src", cfg.Source)
	assert.Equal(t, "default:bucket/path", cfg.Destination)
	assert.Equal(t, cacheDir, cfg.CacheDir)
	assert.Equal(t, 2, cfg.Verbosity)
	assert.Equal(t, time.Minute, cfg.RescanInterval)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{""}, cfg.Includes)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s3sync.json")
	writeFile(t, path, `{
	"source": "/data/src",
	"destination": "backup:bucket",
	"includes": ["files", "docs"],
	"excludes": ["files/tmp"],
	"cache_dir": "`+dir+`",
	"cache_backend": "sqlite",
	"retry_delay": "30s"
}`)

	cmd := newRootCmd()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(cmd, viper.New())
	require.NoError(t, err)

	assert.Equal(t, "backup:bucket", cfg.Destination)
	assert.Equal(t, []string{"files", "docs"}, cfg.Includes)
	assert.Equal(t, []string{"files/tmp"}, cfg.Excludes)
	assert.Equal(t, "sqlite", cfg.CacheBackend)
	assert.Equal(t, 30*time.Second, cfg.RetryDelay)
}

func TestLoadConfigFlagsWinOverEnv(t *testing.T) {
	t.Setenv("S3SYNC_SOURCE", "/from/env")
	t.Setenv("S3SYNC_DESTINATION", "default:bucket")

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("source", "/from/flag"))
	require.NoError(t, cmd.Flags().Set("cache-dir", t.TempDir()))

	cfg, err := loadConfig(cmd, viper.New())
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Source)
}

func TestLoadConfigEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "S3SYNC_SOURCE=/data/src\nS3SYNC_DESTINATION=default:bucket\n")
	t.Setenv("S3SYNC_SOURCE", "")
	t.Setenv("S3SYNC_DESTINATION", "")
	os.Unsetenv("S3SYNC_SOURCE")
	os.Unsetenv("S3SYNC_DESTINATION")

	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("env-file", envFile))
	require.NoError(t, cmd.Flags().Set("cache-dir", dir))

	cfg, err := loadConfig(cmd, viper.New())
	require.NoError(t, err)
	assert.Equal(t, "/data/src", cfg.Source)
	assert.Equal(t, "default:bucket", cfg.Destination)
}

func TestLoadConfigRejectsRemoteToRemote(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Set("source", "default:a"))
	require.NoError(t, cmd.Flags().Set("destination", "default:b"))
	require.NoError(t, cmd.Flags().Set("cache-dir", t.TempDir()))

	_, err := loadConfig(cmd, viper.New())
	assert.ErrorContains(t, err, "not supported")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, logLevel(0))
	assert.Equal(t, slog.LevelInfo, logLevel(1))
	assert.Equal(t, slog.LevelDebug, logLevel(2))
	assert.Equal(t, slog.LevelDebug, logLevel(5))
}

func TestSetupLoggingWritesLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var out bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "s3sync.log")
	closeLog, err := setupLogging(&out, 0, logFile)
	require.NoError(t, err)

	slog.Info("hidden")
	slog.Warn("shown", "key", "f1")
	closeLog()

	b, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "shown")
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.NotContains(t, out.String(), "hidden")
}

func TestRootCommandSyncsOnce(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	src, dst, cacheDir := t.TempDir(), t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "files", "f1"), "content")
	writeFile(t, filepath.Join(src, "other", "f2"), "content")
	writeFile(t, filepath.Join(dst, "files", "stale"), "content")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{
		"--source", src,
		"--destination", dst,
		"--include", "files",
		"--cache-dir", cacheDir,
		"-v", "1",
	})
	require.NoError(t, cmd.Execute())

	b, err := os.ReadFile(filepath.Join(dst, "files", "f1"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(b))
	assert.NoFileExists(t, filepath.Join(dst, "files", "stale"))
	assert.NoDirExists(t, filepath.Join(dst, "other"))

	assert.FileExists(t, filepath.Join(cacheDir, ".s3sync-source.json"))
	assert.FileExists(t, filepath.Join(cacheDir, ".s3sync-destination.json"))
	assert.Contains(t, out.String(), "sync done")
}

func TestRootCommandRestore(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(dst, "f1"), "content")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"-s", src, "-d", dst, "--restore", "--cache-dir", t.TempDir(), "-v", "0"})
	require.NoError(t, cmd.Execute())

	assert.FileExists(t, filepath.Join(src, "f1"))
}

func TestRootCommandFakeRun(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	src, dst := t.TempDir(), t.TempDir()
	writeFile(t, filepath.Join(src, "f1"), "content")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"-s", src, "-d", dst, "--fake", "--cache-dir", t.TempDir()})
	require.NoError(t, cmd.Execute())

	assert.NoFileExists(t, filepath.Join(dst, "f1"))
	assert.Contains(t, out.String(), "transfer")
	assert.Contains(t, out.String(), "f1")
}
