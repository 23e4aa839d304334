package models

import (
	"time"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Download struct {
	bun.BaseModel `bun:"table:downloads"`

	ID             uuid.UUID `bun:",pk,type:uuid" json:"id"`
	ArtifactID     string    `bun:",notnull" json:"artifact_id"`
	Success        bool      `bun:",notnull" json:"success"`
	ErrorKind      string    `bun:",nullzero" json:"error_kind,omitempty"`
	ErrorMessage   string    `bun:",nullzero" json:"error_message,omitempty"`
	Strategy       string    `bun:",nullzero" json:"strategy,omitempty"`
	Path           string    `bun:",nullzero" json:"path,omitempty"`
	TotalBytes     int64     `bun:",notnull,default:0" json:"total_bytes"`
	ManifestDigest string    `bun:",nullzero" json:"manifest_digest,omitempty"`
	StartedAt      time.Time `bun:",notnull" json:"started_at"`
	FinishedAt     time.Time `bun:",notnull" json:"finished_at"`
}

func NewDownload(a types.DownloadAttempt) *Download {
	return &Download{
		ID:             a.ID,
		ArtifactID:     a.ArtifactID,
		Success:        a.Result.Success,
		ErrorKind:      string(a.Result.ErrorKind),
		ErrorMessage:   a.Result.Message(),
		Strategy:       a.Strategy,
		Path:           a.Result.Path,
		TotalBytes:     a.TotalBytes,
		ManifestDigest: a.ManifestDigest,
		StartedAt:      a.StartedAt.UTC(),
		FinishedAt:     a.FinishedAt.UTC(),
	}
}

func (d *Download) Duration() time.Duration {
	return d.FinishedAt.Sub(d.StartedAt)
}
