package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.Set("cozy_home", t.TempDir())
	return v
}

func TestLoadDefaults(t *testing.T) {
	v := newViper(t)
	home := v.GetString("cozy_home")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "models"), cfg.CacheDir)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 300*time.Second, cfg.DownloadTimeout())
	assert.Equal(t, SourceHuggingFace, cfg.Source)
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, []string{"config.json"}, cfg.RequiredFiles)
	assert.False(t, cfg.Offline)
	assert.False(t, cfg.HistoryEnabled())
}

func TestLoadHuggingFaceEnvNames(t *testing.T) {
	t.Setenv("HF_MAX_RETRIES", "5")
	t.Setenv("HF_HUB_DOWNLOAD_TIMEOUT", "60")
	t.Setenv("HF_HUB_OFFLINE", "1")
	t.Setenv("HF_TOKEN", "hf_dummy")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 60, cfg.DownloadTimeoutSeconds)
	assert.True(t, cfg.Offline)
	assert.Equal(t, "hf_dummy", cfg.AuthToken)
}

func TestLoadConfigAndEnvFiles(t *testing.T) {
	v := newViper(t)
	home := v.GetString("cozy_home")
	cacheDir := filepath.Join(home, "elsewhere")

	yaml := "max_workers: 8\nretention_days: 7\ndb:\n  dsn: file:history.db\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("COZY_CACHE_DIR="+cacheDir+"\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("COZY_CACHE_DIR") })

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 7, cfg.RetentionDays)
	assert.Equal(t, cacheDir, cfg.CacheDir)
	assert.True(t, cfg.HistoryEnabled())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			CacheDir:               "/tmp/cache",
			Source:                 SourceHuggingFace,
			MaxRetries:             3,
			DownloadTimeoutSeconds: 300,
			MaxWorkers:             4,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.MaxRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DownloadTimeoutSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Source = "ftp"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Source = SourceS3
	assert.ErrorIs(t, cfg.Validate(), ErrS3BucketNotSet)

	cfg.S3 = &S3Config{Bucket: "models"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadNormalizesSource(t *testing.T) {
	v := newViper(t)
	home := v.GetString("cozy_home")

	yaml := "source: ' S3 '\ns3:\n  bucket_name: models\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, SourceS3, cfg.Source)
	require.NotNil(t, cfg.S3)
	assert.Equal(t, "models", cfg.S3.Bucket)
}
