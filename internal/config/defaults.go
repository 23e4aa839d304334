package config

import (
	"errors"
	"time"

	"github.com/cozy-creator/model-cache/internal/types"
)

const (
	DefaultCozyHome               = "~/.cozy-creator"
	DefaultEnvironment            = "dev"
	DefaultPort                   = 8881
	DefaultEndpoint               = "https://huggingface.co"
	DefaultRevision               = "main"
	DefaultMaxRetries             = 3
	DefaultRetryBaseDelay         = time.Second
	DefaultDownloadTimeoutSeconds = 300
	DefaultMaxWorkers             = 4
	DefaultRetentionDays          = 30
)

var DefaultRequiredFiles = types.DefaultRequiredFiles

var (
	ErrCozyHomeExpandFailed = errors.New("failed to expand cozy home directory")
	ErrCacheDirNotSet       = errors.New("cache directory is not set")
	ErrS3BucketNotSet       = errors.New("s3 source requires s3.bucket_name")
)
