package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocm.software/open-component-model/contribution/internal/config"
	"ocm.software/open-component-model/contribution/storage"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvConfig, "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	r := require.New(t)

	cfg, err := config.Load("", nil)
	r.NoError(err)
	r.Equal(storage.DefaultType, cfg.Storage.GetType())
	r.Equal(":8080", cfg.Server.Address)
	r.Equal(10*time.Second, cfg.Server.ReadHeaderTimeout)
	r.Equal(250*time.Millisecond, cfg.Recovery.InitialInterval)
	r.Equal(30*time.Second, cfg.Recovery.MaxElapsedTime)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	r := require.New(t)
	path := writeConfig(t, `
storage:
  type: SQLiteStorage/v1alpha1
  path: /var/lib/contributions/store.db
server:
  address: 127.0.0.1:9000
  shutdown_timeout: 1m
recovery:
  max_elapsed_time: 5s
log:
  level: debug
`)

	cfg, err := config.Load(path, nil)
	r.NoError(err)
	r.Equal("127.0.0.1:9000", cfg.Server.Address)
	r.Equal(time.Minute, cfg.Server.ShutdownTimeout)
	r.Equal(5*time.Second, cfg.Recovery.MaxElapsedTime)
	r.Equal("debug", cfg.Log.Level)

	var spec v1alpha1.SQLiteStorage
	r.NoError(v1alpha1.Scheme.Convert(cfg.Storage, &spec))
	r.Equal("/var/lib/contributions/store.db", spec.Path)

	t.Run("named by environment", func(t *testing.T) {
		t.Setenv(config.EnvConfig, path)
		cfg, err := config.Load("", nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	})
}

func TestLoadMissingFile(t *testing.T) {
	isolate(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	isolate(t)
	r := require.New(t)
	path := writeConfig(t, `
storage:
  type: filesystem
  path: /from/file
`)
	t.Setenv("CONTRIBUTIONS_STORAGE_PATH", "/from/env")
	t.Setenv("CONTRIBUTIONS_SERVER_ADDRESS", ":9999")

	cfg, err := config.Load(path, nil)
	r.NoError(err)
	r.Equal(":9999", cfg.Server.Address)
	var fs v1alpha1.FileSystemStorage
	r.NoError(v1alpha1.Scheme.Convert(cfg.Storage, &fs))
	r.Equal("/from/env", fs.Path)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(config.StorageTypeFlag, "", "")
	flags.String(config.StoragePathFlag, "", "")

	t.Run("unset flags keep environment", func(t *testing.T) {
		cfg, err := config.Load(path, flags)
		require.NoError(t, err)
		var fs v1alpha1.FileSystemStorage
		require.NoError(t, v1alpha1.Scheme.Convert(cfg.Storage, &fs))
		assert.Equal(t, "/from/env", fs.Path)
	})

	t.Run("flags win", func(t *testing.T) {
		require.NoError(t, flags.Parse([]string{"--" + config.StorageTypeFlag, "sqlite", "--" + config.StoragePathFlag, "/from/flag"}))
		cfg, err := config.Load(path, flags)
		require.NoError(t, err)
		assert.Equal(t, v1alpha1.SQLiteShortType, cfg.Storage.GetType().String())
		var spec v1alpha1.SQLiteStorage
		require.NoError(t, v1alpha1.Scheme.Convert(cfg.Storage, &spec))
		assert.Equal(t, "/from/flag", spec.Path)
	})
}

func TestLoadS3FromEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CONTRIBUTIONS_STORAGE_TYPE", "s3")
	t.Setenv("CONTRIBUTIONS_STORAGE_BUCKET", "contributions")
	t.Setenv("CONTRIBUTIONS_STORAGE_ENDPOINT", "http://localhost:9000")
	t.Setenv("CONTRIBUTIONS_STORAGE_USEPATHSTYLE", "true")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	var spec v1alpha1.S3Storage
	require.NoError(t, v1alpha1.Scheme.Convert(cfg.Storage, &spec))
	assert.Equal(t, "contributions", spec.Bucket)
	assert.Equal(t, "http://localhost:9000", spec.Endpoint)
	assert.True(t, spec.UsePathStyle)
}
