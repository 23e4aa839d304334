package model_downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cozy-creator/model-cache/internal/config"
	"github.com/cozy-creator/model-cache/internal/services/cachestore"
	"github.com/cozy-creator/model-cache/internal/services/diskspace"
	"github.com/cozy-creator/model-cache/internal/services/integrity"
	"github.com/cozy-creator/model-cache/internal/services/janitor"
	"github.com/cozy-creator/model-cache/internal/services/repository"
	"github.com/cozy-creator/model-cache/internal/services/retry"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/cozy-creator/model-cache/internal/utils/hashutil"
	"github.com/dustin/go-humanize"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const strategyCached = "cached"

// ModelDownloaderManager brings artifacts into the cache. A download walks
// validate, cache check, space check, transfer and verify, in that order,
// and never loops back.
type ModelDownloaderManager struct {
	store    *cachestore.Store
	client   repository.Client
	verifier *integrity.Verifier
	space    *diskspace.Checker
	janitor  *janitor.Janitor
	retry    retry.Policy
	history  types.History
	subs     *SubscriptionManager
	logger   *zap.Logger

	requiredFiles []string
	timeout       time.Duration
	maxWorkers    int
}

var _ types.ModelDownloader = (*ModelDownloaderManager)(nil)

func NewModelDownloaderManager(cfg *config.Config, store *cachestore.Store, client repository.Client, logger *zap.Logger, opts ...Option) (*ModelDownloaderManager, error) {
	if store == nil || client == nil {
		return nil, errors.New("cache store and repository client are required")
	}

	m := &ModelDownloaderManager{
		store:         store,
		client:        client,
		verifier:      integrity.NewVerifier(logger),
		space:         diskspace.NewChecker(logger),
		janitor:       janitor.NewJanitor(logger),
		retry:         retry.NewPolicy(cfg.MaxRetries, cfg.RetryBaseDelay, logger),
		subs:          NewSubscriptionManager(),
		logger:        logger.Named("model_downloader"),
		requiredFiles: cfg.RequiredFiles,
		timeout:       cfg.DownloadTimeout(),
		maxWorkers:    cfg.MaxWorkers,
	}
	if len(m.requiredFiles) == 0 {
		m.requiredFiles = types.DefaultRequiredFiles
	}
	if m.maxWorkers < 1 {
		m.maxWorkers = 1
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *ModelDownloaderManager) Store() *cachestore.Store {
	return m.store
}

// Download brings artifactID into the cache and reports the outcome. It
// never panics or returns a bare error; failures carry an ErrorKind.
func (m *ModelDownloaderManager) Download(ctx context.Context, artifactID string) types.DownloadResult {
	attempt := types.DownloadAttempt{
		ID:         uuid.New(),
		ArtifactID: artifactID,
		StartedAt:  time.Now(),
	}
	logger := m.logger.With(zap.String("artifact_id", artifactID), zap.String("attempt_id", attempt.ID.String()))

	result := m.download(ctx, logger, artifactID, &attempt)

	attempt.Result = result
	attempt.FinishedAt = time.Now()
	m.finish(ctx, logger, attempt)

	return result
}

func (m *ModelDownloaderManager) download(ctx context.Context, logger *zap.Logger, artifactID string, attempt *types.DownloadAttempt) types.DownloadResult {
	// Init
	path, err := m.store.PathFor(artifactID)
	if err != nil {
		return failure(err, "")
	}

	unlock, err := m.store.Lock(ctx, artifactID)
	if err != nil {
		return failure(fmt.Errorf("lock %s: %w", artifactID, err), path)
	}
	defer unlock()

	m.subs.SetModelStatus(artifactID, types.StatusDownloading, nil)

	// CacheCheck
	state, err := m.verifier.Verify(path, m.cachedFileSet(logger, artifactID))
	if err != nil {
		return failure(err, path)
	}
	if state == types.CacheStateComplete {
		logger.Info("artifact already cached", zap.String("path", path))
		attempt.Strategy = strategyCached
		return success(path)
	}

	// SpaceCheck, starting with the manifest
	files, err := retry.Do(ctx, m.retry, "manifest", func(ctx context.Context) ([]types.RemoteFileDescriptor, error) {
		return m.client.GetManifest(ctx, artifactID)
	})
	degraded := false
	if err != nil {
		if types.KindOf(err) != types.KindTransientNetwork {
			return failure(err, path)
		}
		logger.Warn("manifest unavailable, falling back to a full transfer without a space check", zap.Error(err))
		degraded = true
		files = nil
		if err := m.store.ForgetManifest(cachestore.DirName(artifactID)); err != nil {
			return failure(err, path)
		}
	}

	strategy := SelectStrategy(files)
	attempt.Strategy = strategy.Name()

	required := integrity.NewRequiredFileSet(m.requiredFiles)
	if !degraded {
		selected, err := repository.SelectFiles(files, strategy.AllowPatterns())
		if err != nil {
			return failure(err, path)
		}
		attempt.TotalBytes = types.TotalSize(selected)
		attempt.ManifestDigest = hashutil.ManifestDigest(selected)

		required = integrity.ForManifest(m.requiredFiles, selected)
		required.Expected = selected

		// entries of repos without the default required files only verify
		// against their manifest
		if state == types.CacheStatePartial {
			if st, err := m.verifier.Verify(path, required); err == nil && st == types.CacheStateComplete {
				if err := m.store.SaveManifest(artifactID, selected); err != nil {
					return failure(err, path)
				}
				logger.Info("artifact already cached", zap.String("path", path))
				attempt.Strategy = strategyCached
				return success(path)
			}
		}

		requiredBytes := diskspace.RequiredBytes(selected)
		if !m.space.HasSpace(path, requiredBytes) {
			logger.Error("insufficient disk space", zap.String("required", humanize.IBytes(requiredBytes)))
			return failure(types.Errorf(types.KindInsufficientSpace, "space", "%s needed on the volume holding %s", humanize.IBytes(requiredBytes), path), path)
		}

		// the sidecar has to exist before the first file lands
		if err := m.store.SaveManifest(artifactID, selected); err != nil {
			return failure(err, path)
		}
	}

	// Transferring
	if err := os.MkdirAll(path, 0o755); err != nil {
		return failure(fmt.Errorf("create %s: %w", path, err), path)
	}

	logger.Info("downloading artifact",
		zap.String("strategy", strategy.Name()),
		zap.String("size", humanize.IBytes(uint64(attempt.TotalBytes))),
	)
	err = retry.Run(ctx, m.retry, "fetch", func(ctx context.Context) error {
		return m.transfer(ctx, strategy, artifactID, path)
	})
	if err != nil {
		if types.KindOf(err) == types.KindCancelled {
			logger.Warn("download cancelled, entry left partial", zap.String("path", path))
			return failure(err, path)
		}
		m.cleanup(logger, path)
		return failure(err, path)
	}

	// Verifying
	state, err = m.verifier.Verify(path, required)
	if err != nil || state != types.CacheStateComplete {
		if err == nil {
			err = fmt.Errorf("entry is %s after transfer", state)
		}
		m.cleanup(logger, path)
		return failure(types.NewError(types.KindVerificationFailed, "verify", err), path)
	}

	logger.Info("artifact ready", zap.String("path", path))
	return success(path)
}

// cachedFileSet is what a cache check without the network holds an entry
// to: the files its last transfer selected when they were recorded, and the
// stricter no-manifest rules otherwise.
func (m *ModelDownloaderManager) cachedFileSet(logger *zap.Logger, artifactID string) integrity.RequiredFileSet {
	files, ok, err := m.store.LoadManifest(artifactID)
	if err != nil {
		logger.Warn("ignoring unreadable manifest sidecar", zap.Error(err))
	}
	if err != nil || !ok {
		return integrity.CachedFileSet(m.requiredFiles)
	}

	set := integrity.ForManifest(m.requiredFiles, files)
	set.Expected = files
	return set
}

// transfer runs one attempt under the per-attempt timeout. Hitting the
// timeout is transient; the caller's own cancellation is not.
func (m *ModelDownloaderManager) transfer(ctx context.Context, strategy Strategy, artifactID, path string) error {
	attemptCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := strategy.Download(attemptCtx, m.client, artifactID, path)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return types.NewError(types.KindTransientNetwork, "fetch", fmt.Errorf("attempt timed out after %s: %w", m.timeout, err))
	}
	return err
}

func (m *ModelDownloaderManager) cleanup(logger *zap.Logger, path string) {
	removed, err := m.janitor.CleanupIncomplete(path)
	if err != nil {
		logger.Error("failed to clean up partial files", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("cleaned up partial files", zap.String("path", path), zap.Int("removed", removed))
}

func (m *ModelDownloaderManager) finish(ctx context.Context, logger *zap.Logger, attempt types.DownloadAttempt) {
	result := attempt.Result
	if result.Success {
		m.subs.SetModelStatus(attempt.ArtifactID, types.StatusReady, nil)
	} else {
		logger.Error("download failed", zap.String("error_kind", string(result.ErrorKind)), zap.Error(result.Err))
		if result.ErrorKind != types.KindInvalidInput {
			m.subs.SetModelStatus(attempt.ArtifactID, types.StatusFailed, result.Err)
		}
	}

	if m.history == nil {
		return
	}
	if err := m.history.Record(context.WithoutCancel(ctx), attempt); err != nil {
		logger.Warn("failed to record download history", zap.Error(err))
	}
}

func success(path string) types.DownloadResult {
	return types.DownloadResult{Success: true, Path: path}
}

func failure(err error, path string) types.DownloadResult {
	return types.DownloadResult{
		Success:   false,
		ErrorKind: types.KindOrInternal(err),
		Path:      path,
		Err:       err,
	}
}

// DownloadAll downloads distinct ids in parallel, at most MaxWorkers at a
// time, and returns each result keyed by id.
func (m *ModelDownloaderManager) DownloadAll(ctx context.Context, artifactIDs []string) map[string]types.DownloadResult {
	results := make(map[string]types.DownloadResult, len(artifactIDs))
	var mu sync.Mutex

	wp := workerpool.New(m.maxWorkers)
	seen := make(map[string]bool, len(artifactIDs))
	for _, id := range artifactIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		id := id
		wp.Submit(func() {
			res := m.Download(ctx, id)
			mu.Lock()
			results[id] = res
			mu.Unlock()
		})
	}
	wp.StopWait()

	return results
}

// VerifyOnly inspects the cache entry without touching the network or the
// filesystem contents.
func (m *ModelDownloaderManager) VerifyOnly(artifactID string) (types.CacheState, error) {
	if err := cachestore.ValidateArtifactID(artifactID); err != nil {
		return "", err
	}
	path := m.store.EntryPath(artifactID)
	return m.verifier.Verify(path, m.cachedFileSet(m.logger.With(zap.String("artifact_id", artifactID)), artifactID))
}

func (m *ModelDownloaderManager) GetModelStatus(artifactID string) types.DownloadStatus {
	return m.subs.GetModelStatus(artifactID)
}

// WaitForModelReady blocks until an in-flight download of artifactID
// settles. With nothing in flight it answers from the cache on disk.
func (m *ModelDownloaderManager) WaitForModelReady(ctx context.Context, artifactID string) error {
	ch, status := m.subs.Subscribe(artifactID)
	if status == types.StatusUnknown {
		state, err := m.VerifyOnly(artifactID)
		if err != nil {
			return err
		}
		if state != types.CacheStateComplete {
			return types.Errorf(types.KindNotFound, "wait", "%s is %s and no download is in progress", artifactID, state)
		}
		return nil
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		m.subs.Unsubscribe(artifactID, ch)
		return ctx.Err()
	}
}

// Cleanup removes in-progress markers from one entry while holding its
// lock.
func (m *ModelDownloaderManager) Cleanup(ctx context.Context, artifactID string) (int, error) {
	path, err := m.store.PathFor(artifactID)
	if err != nil {
		return 0, err
	}

	unlock, err := m.store.Lock(ctx, artifactID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	return m.janitor.CleanupIncomplete(path)
}

// Evict removes entries idle for more than maxAgeDays. Entries with a
// download in flight are left alone.
func (m *ModelDownloaderManager) Evict(maxAgeDays int) ([]string, error) {
	return m.janitor.EvictOlderThan(m.store, maxAgeDays)
}

// Purge removes every entry that is not being downloaded.
func (m *ModelDownloaderManager) Purge() ([]string, error) {
	return m.janitor.Purge(m.store)
}

func (m *ModelDownloaderManager) Usage() (janitor.Usage, error) {
	return m.janitor.Usage(m.store)
}
