package api

import (
	"errors"
	"net/http"

	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DownloadRequest struct {
	ID   string `json:"id"`
	Wait bool   `json:"wait"`
}

type ModelResponse struct {
	ID     string               `json:"id"`
	State  types.CacheState     `json:"state"`
	Status types.DownloadStatus `json:"status,omitempty"`
}

func GetModel(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	id := c.Query("id")

	state, err := app.Downloader.VerifyOnly(id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"message": err.Error(), "error_kind": types.KindOrInternal(err)})
		return
	}

	c.JSON(http.StatusOK, ModelResponse{
		ID:     id,
		State:  state,
		Status: app.Downloader.GetModelStatus(id),
	})
}

// DownloadModel starts a download. With wait set it answers once the
// download has finished; otherwise it answers 202 right away.
func DownloadModel(c *gin.Context) {
	var req DownloadRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	if err := cachestore.ValidateArtifactID(req.ID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "error_kind": types.KindInvalidInput})
		return
	}

	app := c.MustGet("app").(*app.App)

	if !req.Wait {
		go func() {
			res := app.Downloader.Download(app.Context(), req.ID)
			if !res.Success {
				app.Logger.Error("background download failed", zap.String("artifact_id", req.ID), zap.Error(res.Err))
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{"id": req.ID, "status": types.StatusDownloading})
		return
	}

	res := app.Downloader.Download(c.Request.Context(), req.ID)
	if !res.Success {
		c.JSON(statusFor(res.Err), gin.H{
			"id":         req.ID,
			"success":    false,
			"error_kind": res.ErrorKind,
			"message":    res.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	switch types.KindOrInternal(err) {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindAuth:
		return http.StatusForbidden
	case types.KindInsufficientSpace:
		return http.StatusInsufficientStorage
	case types.KindTransientNetwork:
		return http.StatusServiceUnavailable
	case types.KindVerificationFailed:
		return http.StatusBadGateway
	case types.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errHistoryDisabled = errors.New("download history is disabled; set db.dsn to enable it")
