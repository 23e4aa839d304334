package types

import "context"

// CacheState is derived by inspecting an entry directory on every call;
// it is never persisted.
type CacheState string

const (
	CacheStateAbsent   CacheState = "absent"
	CacheStatePartial  CacheState = "partial"
	CacheStateComplete CacheState = "complete"
)

type DownloadStatus string

const (
	StatusUnknown     DownloadStatus = ""
	StatusDownloading DownloadStatus = "downloading"
	StatusReady       DownloadStatus = "ready"
	StatusFailed      DownloadStatus = "failed"
)

// DownloadResult is returned once per download call and never mutated.
type DownloadResult struct {
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Path      string    `json:"path,omitempty"`
	Err       error     `json:"-"`
}

func (r DownloadResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

type ModelDownloader interface {
	Download(ctx context.Context, artifactID string) DownloadResult
	VerifyOnly(artifactID string) (CacheState, error)
	GetModelStatus(artifactID string) DownloadStatus
	WaitForModelReady(ctx context.Context, artifactID string) error
}
