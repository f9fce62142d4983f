package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("storage", "", "")
	fs.String("sqlite-path", "", "")
	fs.String("log-level", "", "")
	fs.StringP("output", "o", "", "")
	fs.String("unrelated", "", "")
	return fs
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assetcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "assetcore.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "fs", cfg.Blob.Driver)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, OutputTable, cfg.Output)
	assert.Empty(t, cfg.File)
}

func TestLoadPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, `
storage:
  driver: memory
  sqlite_path: from-file.db
log:
  level: warn
blob:
  driver: s3
  s3:
    bucket: reports
    path_style: true
    access_key_id: AKIA
`)
	t.Setenv("ASSETCORE_STORAGE__SQLITE_PATH", "from-env.db")
	t.Setenv("ASSETCORE_LOG__LEVEL", "error")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--log-level", "debug", "-o", "json", "--unrelated", "x"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "memory", cfg.Storage.Driver, "file overrides defaults")
	assert.Equal(t, "from-env.db", cfg.Storage.SQLitePath, "env overrides file")
	assert.Equal(t, "debug", cfg.Log.Level, "flags override env")
	assert.Equal(t, OutputJSON, cfg.Output)
	assert.Equal(t, "reports", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, "AKIA", cfg.Blob.S3.AccessKeyID)
}

func TestLoadPicksUpDefaultFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("output: json\n"), 0o600))
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultFile, cfg.File)
	assert.Equal(t, OutputJSON, cfg.Output)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, `
storage:
  driver: postgres
blob:
  driver: s3
log:
  level: loud
  format: xml
output: yaml
`)
	_, err := Load(path, nil)
	require.Error(t, err)
	for _, want := range []string{"postgres_dsn", "blob.s3.bucket", "log.level", "log.format", "output"} {
		assert.Contains(t, err.Error(), want)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Warn("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	LogConfig{Level: "debug", Format: "text"}.NewLogger(&buf).Debug("dbg")
	assert.Contains(t, buf.String(), "level=DEBUG")
}
