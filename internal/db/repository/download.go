package repository

import (
	"context"
	"fmt"

	"github.com/cozy-creator/model-cache/internal/db/models"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/uptrace/bun"
)

const DefaultHistoryLimit = 20

type IDownloadRepository interface {
	Repository[models.Download]
	types.History
	WithTx(tx *bun.Tx) IDownloadRepository
	ListByArtifact(ctx context.Context, artifactID string, limit int) ([]models.Download, error)
}

type DownloadRepository struct {
	db bun.IDB
}

var _ IDownloadRepository = (*DownloadRepository)(nil)

func NewDownloadRepository(db *bun.DB) IDownloadRepository {
	return &DownloadRepository{db: db}
}

func (r *DownloadRepository) WithTx(tx *bun.Tx) IDownloadRepository {
	return &DownloadRepository{db: tx}
}

func (r *DownloadRepository) Create(ctx context.Context, download *models.Download) (*models.Download, error) {
	if download == nil {
		return nil, fmt.Errorf("download model is nil")
	}

	if _, err := r.db.NewInsert().Model(download).Exec(ctx); err != nil {
		return nil, err
	}

	return download, nil
}

func (r *DownloadRepository) GetByID(ctx context.Context, id string) (*models.Download, error) {
	var download models.Download
	if err := r.db.NewSelect().Model(&download).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &download, nil
}

func (r *DownloadRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*models.Download)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// ListByArtifact returns the latest attempts for artifactID, newest first.
func (r *DownloadRepository) ListByArtifact(ctx context.Context, artifactID string, limit int) ([]models.Download, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	downloads := []models.Download{}
	err := r.db.NewSelect().
		Model(&downloads).
		Where("artifact_id = ?", artifactID).
		Order("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return downloads, nil
}

func (r *DownloadRepository) Record(ctx context.Context, attempt types.DownloadAttempt) error {
	_, err := r.Create(ctx, models.NewDownload(attempt))
	return err
}
