package types

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DownloadAttempt is the audit record of one download call.
type DownloadAttempt struct {
	ID             uuid.UUID
	ArtifactID     string
	Strategy       string
	Result         DownloadResult
	TotalBytes     int64
	ManifestDigest string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// History stores download attempts. Implementations must be safe for
// concurrent use.
type History interface {
	Record(ctx context.Context, attempt DownloadAttempt) error
}
