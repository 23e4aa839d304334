package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cozy-creator/model-cache/internal/utils/pathutil"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	SourceHuggingFace = "huggingface"
	SourceS3          = "s3"
)

const cozyPrefix = "COZY"

type Config struct {
	CozyHome    string `mapstructure:"cozy_home"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`

	// CacheDir is the cache root; it holds one directory per artifact.
	CacheDir    string `mapstructure:"cache_dir"`
	Source      string `mapstructure:"source"`
	Endpoint    string `mapstructure:"endpoint"`
	Revision    string `mapstructure:"revision"`
	AuthToken   string `mapstructure:"hf_token"`
	Offline     bool   `mapstructure:"offline"`
	HubCacheDir string `mapstructure:"hub_cache_dir"`

	MaxRetries             int           `mapstructure:"max_retries"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay"`
	DownloadTimeoutSeconds int           `mapstructure:"download_timeout"`
	MaxWorkers             int           `mapstructure:"max_workers"`
	RetentionDays          int           `mapstructure:"retention_days"`
	RequiredFiles          []string      `mapstructure:"required_files"`

	S3 *S3Config `mapstructure:"s3"`
	DB *DBConfig `mapstructure:"db"`
}

type S3Config struct {
	Bucket      string `mapstructure:"bucket_name"`
	Prefix      string `mapstructure:"prefix"`
	Region      string `mapstructure:"region_name"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	EndpointUrl string `mapstructure:"endpoint_url"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

func (c *Config) HistoryEnabled() bool {
	return c.DB != nil && c.DB.DSN != ""
}

// Load resolves the cozy home, loads the optional .env and config.yaml
// files found there (or named by env_file / config_file) and unmarshals
// everything into a Config. Nothing is stored globally.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	if err := BindEnvs(v); err != nil {
		return nil, err
	}

	cozyHome, err := getCozyHome(v)
	if err != nil {
		return nil, err
	}
	v.Set("cozy_home", cozyHome)

	envFile := v.GetString("env_file")
	if envFile == "" {
		envFile = filepath.Join(cozyHome, ".env")
	}
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	configFile := v.GetString("config_file")
	if configFile == "" {
		configFile = filepath.Join(cozyHome, "config.yaml")
	}
	if pathutil.PathExists(configFile) {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cozyHome, "models")
	}
	if cfg.CacheDir, err = pathutil.ExpandPath(cfg.CacheDir); err != nil {
		return nil, fmt.Errorf("failed to expand cache dir: %w", err)
	}
	if cfg.HubCacheDir, err = pathutil.ExpandPath(cfg.HubCacheDir); err != nil {
		return nil, fmt.Errorf("failed to expand hub cache dir: %w", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.CacheDir == "" {
		errs = append(errs, ErrCacheDirNotSet)
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries))
	}
	if c.RetryBaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_base_delay must not be negative, got %s", c.RetryBaseDelay))
	}
	if c.DownloadTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("download_timeout must be positive, got %d", c.DownloadTimeoutSeconds))
	}
	if c.MaxWorkers < 1 {
		errs = append(errs, fmt.Errorf("max_workers must be at least 1, got %d", c.MaxWorkers))
	}

	switch strings.ToLower(c.Source) {
	case SourceHuggingFace:
	case SourceS3:
		if c.S3 == nil || c.S3.Bucket == "" {
			errs = append(errs, ErrS3BucketNotSet)
		}
	default:
		errs = append(errs, fmt.Errorf("invalid source %q", c.Source))
	}

	return errors.Join(errs...)
}

// BindEnvs binds every key to its COZY_ variable. The HuggingFace-style
// names (HF_TOKEN, HF_HUB_OFFLINE, ...) are accepted as well.
func BindEnvs(v *viper.Viper) error {
	v.SetEnvPrefix(cozyPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(`-`, `_`, `.`, `_`))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"cache_dir":        {"COZY_CACHE_DIR", "CACHE_DIR"},
		"hf_token":         {"COZY_HF_TOKEN", "HF_TOKEN"},
		"max_retries":      {"COZY_MAX_RETRIES", "HF_MAX_RETRIES"},
		"download_timeout": {"COZY_DOWNLOAD_TIMEOUT", "HF_HUB_DOWNLOAD_TIMEOUT"},
		"offline":          {"COZY_OFFLINE", "HF_HUB_OFFLINE"},
		"endpoint":         {"COZY_ENDPOINT", "HF_ENDPOINT"},
		"hub_cache_dir":    {"COZY_HUB_CACHE_DIR", "HF_HUB_CACHE"},
		"model_id":         {"COZY_MODEL_ID", "MODEL_ID"},
		"environment":      {"COZY_ENVIRONMENT", "ENV"},
		"log_level":        {"COZY_LOG_LEVEL", "LOG_LEVEL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}

	return nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", DefaultEnvironment)
	v.SetDefault("log_level", "")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("cache_dir", "")
	v.SetDefault("source", SourceHuggingFace)
	v.SetDefault("endpoint", DefaultEndpoint)
	v.SetDefault("revision", DefaultRevision)
	v.SetDefault("hf_token", "")
	v.SetDefault("offline", false)
	v.SetDefault("hub_cache_dir", "")
	v.SetDefault("max_retries", DefaultMaxRetries)
	v.SetDefault("retry_base_delay", DefaultRetryBaseDelay)
	v.SetDefault("download_timeout", DefaultDownloadTimeoutSeconds)
	v.SetDefault("max_workers", DefaultMaxWorkers)
	v.SetDefault("retention_days", DefaultRetentionDays)
	v.SetDefault("required_files", DefaultRequiredFiles)

	v.SetDefault("s3.bucket_name", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region_name", "auto")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.endpoint_url", "")

	v.SetDefault("db.dsn", "")
}

// Returns the cozy home directory path.
// It attempts to retrieve the cozy home directory from the following sources in order:
// 1. The `cozy_home` flag from viper.
// 2. The `COZY_HOME` environment variable.
// 3. The default cozy home directory.
func getCozyHome(v *viper.Viper) (string, error) {
	cozyHome := v.GetString("cozy_home")
	if cozyHome == "" {
		cozyHome = os.Getenv("COZY_HOME")
		if cozyHome == "" {
			cozyHome = DefaultCozyHome
		}
	}

	cozyHome, err := pathutil.ExpandPath(cozyHome)
	if err != nil {
		return "", ErrCozyHomeExpandFailed
	}

	return cozyHome, nil
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat .env file: %w", err)
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}

	return nil
}
