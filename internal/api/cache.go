package api

import (
	"net/http"
	"strconv"

	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/gin-gonic/gin"
)

type CleanupRequest struct {
	ID string `json:"id"`
}

type EvictRequest struct {
	MaxAgeDays *int `json:"max_age_days"`
}

func GetHistory(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	if app.DownloadRepository == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": errHistoryDisabled.Error()})
		return
	}

	id := c.Query("id")
	if err := cachestore.ValidateArtifactID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "error_kind": types.KindInvalidInput})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	downloads, err := app.DownloadRepository.ListByArtifact(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   downloads,
	})
}

func CleanupCache(c *gin.Context) {
	var req CleanupRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	app := c.MustGet("app").(*app.App)
	removed, err := app.Downloader.Cleanup(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "removed": removed})
}

// EvictCache removes entries older than max_age_days, defaulting to the
// configured retention.
func EvictCache(c *gin.Context) {
	var req EvictRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse request body"})
		return
	}

	app := c.MustGet("app").(*app.App)
	maxAge := app.Config().RetentionDays
	if req.MaxAgeDays != nil {
		maxAge = *req.MaxAgeDays
	}

	evicted, err := app.Downloader.Evict(maxAge)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"message": err.Error()})
		return
	}
	if evicted == nil {
		evicted = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "evicted": evicted})
}

func GetUsage(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	usage, err := app.Downloader.Usage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   usage,
	})
}
