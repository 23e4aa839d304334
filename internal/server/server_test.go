package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cozy-creator/model-cache/internal/api"
	"github.com/cozy-creator/model-cache/internal/app"
	"github.com/cozy-creator/model-cache/internal/config"
	"github.com/cozy-creator/model-cache/internal/services/diskspace"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stubClient struct{}

var stubManifest = []types.RemoteFileDescriptor{
	types.NewFileDescriptor("config.json", 16, ""),
	types.NewFileDescriptor("model.safetensors", 1024, ""),
}

func (stubClient) GetManifest(ctx context.Context, id string) ([]types.RemoteFileDescriptor, error) {
	if id == "missing/model" {
		return nil, types.Errorf(types.KindNotFound, "manifest", "%s does not exist", id)
	}
	return stubManifest, nil
}

func (stubClient) Fetch(ctx context.Context, id string, allow []string, dir string) error {
	for _, f := range stubManifest {
		if err := os.WriteFile(filepath.Join(dir, f.Name), make([]byte, f.Size), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Environment:            "test",
		CacheDir:               filepath.Join(dir, "models"),
		MaxRetries:             3,
		RetryBaseDelay:         time.Millisecond,
		DownloadTimeoutSeconds: 30,
		MaxWorkers:             2,
		RetentionDays:          30,
		RequiredFiles:          []string{"config.json"},
		Endpoint:               "https://huggingface.co",
		DB:                     &config.DBConfig{DSN: filepath.Join(dir, "history.db")},
	}

	space := diskspace.NewChecker(zap.NewNop(), diskspace.WithStatFunc(func(string) (uint64, error) {
		return 1 << 30, nil
	}))
	a, err := app.NewApp(cfg,
		app.WithDBInitialization(),
		app.WithRepositoryClient(stubClient{}),
		app.WithSpaceChecker(space),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.DownloadRepository)

	s, err := NewServer(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.SetupRoutes(a)
	return s, a
}

func do(t *testing.T, s *Server, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w, out := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestDownloadAndInspect(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodGet, "/api/v1/models?id=test/model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(types.CacheStateAbsent), out["state"])

	w, out = do(t, s, http.MethodPost, "/api/v1/models/download", api.DownloadRequest{ID: "test/model", Wait: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, out["success"])

	w, out = do(t, s, http.MethodGet, "/api/v1/models?id=test/model", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(types.CacheStateComplete), out["state"])
	assert.Equal(t, string(types.StatusReady), out["status"])

	w, out = do(t, s, http.MethodGet, "/api/v1/models/history?id=test/model", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data, ok := out["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 1)

	w, out = do(t, s, http.MethodGet, "/api/v1/cache/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)
	usage := out["data"].(map[string]any)
	assert.Equal(t, float64(1040), usage["total_bytes"])
}

func TestDownloadErrors(t *testing.T) {
	s, _ := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/api/v1/models/download", api.DownloadRequest{ID: "", Wait: true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.KindInvalidInput), out["error_kind"])

	w, out = do(t, s, http.MethodPost, "/api/v1/models/download", api.DownloadRequest{ID: "missing/model", Wait: true})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.KindNotFound), out["error_kind"])

	w, _ = do(t, s, http.MethodGet, "/api/v1/models?id=bad--id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadAsync(t *testing.T) {
	s, a := newTestServer(t)

	w, out := do(t, s, http.MethodPost, "/api/v1/models/download", api.DownloadRequest{ID: "test/model"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, string(types.StatusDownloading), out["status"])

	// the history record is written last
	require.Eventually(t, func() bool {
		downloads, err := a.DownloadRepository.ListByArtifact(context.Background(), "test/model", 0)
		return err == nil && len(downloads) == 1
	}, 5*time.Second, 10*time.Millisecond)

	state, err := a.Downloader.VerifyOnly("test/model")
	require.NoError(t, err)
	assert.Equal(t, types.CacheStateComplete, state)
	assert.Equal(t, types.StatusReady, a.Downloader.GetModelStatus("test/model"))
}

func TestCacheMaintenance(t *testing.T) {
	s, a := newTestServer(t)
	require.True(t, a.Downloader.Download(context.Background(), "test/model").Success)

	marker := filepath.Join(a.Store.Root(), "test--model", "extra.bin.incomplete")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	w, out := do(t, s, http.MethodPost, "/api/v1/cache/cleanup", map[string]string{"id": "test/model"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), out["removed"])
	assert.NoFileExists(t, marker)

	w, out = do(t, s, http.MethodPost, "/api/v1/cache/evict", map[string]int{"max_age_days": 30})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["evicted"])

	w, out = do(t, s, http.MethodPost, "/api/v1/cache/evict", map[string]int{"max_age_days": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["evicted"], 1)

	state, err := a.Downloader.VerifyOnly("test/model")
	require.NoError(t, err)
	assert.Equal(t, types.CacheStateAbsent, state)

	w, _ = do(t, s, http.MethodPost, "/api/v1/cache/evict", map[string]int{"max_age_days": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
