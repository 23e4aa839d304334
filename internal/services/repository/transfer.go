package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/cozy-creator/model-cache/internal/utils/patternutil"
	"github.com/gammazero/workerpool"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"go.uber.org/zap"
)

// opener returns the remote content of one manifest file.
type opener func(ctx context.Context, f types.RemoteFileDescriptor) (io.ReadCloser, error)

// transfer writes manifest files into a directory. Each file goes to
// <name>.incomplete first and is renamed once its size (and checksum, when
// known) matches. Files already present with the manifest size are
// skipped, so an interrupted transfer resumes at file granularity.
//
// Before any fetch starts every pending file gets a zero-length
// <name>.incomplete placeholder, so a transfer that stops early always
// leaves a marker for each file it did not finish.
type transfer struct {
	logger   *zap.Logger
	workers  int
	progress io.Writer
}

// SelectFiles keeps the manifest files matching any of patterns. No
// patterns keeps everything.
func SelectFiles(files []types.RemoteFileDescriptor, patterns []string) ([]types.RemoteFileDescriptor, error) {
	if len(patterns) == 0 {
		return files, nil
	}

	m, err := patternutil.Compile(patterns...)
	if err != nil {
		return nil, types.NewError(types.KindInvalidInput, "select", err)
	}

	var selected []types.RemoteFileDescriptor
	for _, f := range files {
		if m.Match(f.Name) {
			selected = append(selected, f)
		}
	}
	return selected, nil
}

func (t *transfer) run(ctx context.Context, files []types.RemoteFileDescriptor, allowPatterns []string, targetDir string, open opener) error {
	selected, err := SelectFiles(files, allowPatterns)
	if err != nil {
		return err
	}

	pending, err := t.placeholders(selected, targetDir)
	if err != nil {
		return err
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var progress *mpb.Progress
	if t.progress != nil {
		progress = mpb.NewWithContext(ctx,
			mpb.WithOutput(t.progress),
			mpb.WithWidth(60),
			mpb.WithRefreshRate(180*time.Millisecond),
		)
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	wp := workerpool.New(t.workers)
	for _, f := range pending {
		f := f
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			if err := t.fetchFile(ctx, progress, f, targetDir, open); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		})
	}
	wp.StopWait()
	if progress != nil {
		progress.Wait()
	}

	if firstErr != nil {
		return firstErr
	}
	return parent.Err()
}

// placeholders creates a marker for every selected file that is not already
// in place and returns those files.
func (t *transfer) placeholders(selected []types.RemoteFileDescriptor, targetDir string) ([]types.RemoteFileDescriptor, error) {
	var pending []types.RemoteFileDescriptor
	for _, f := range selected {
		dest, err := localPath(targetDir, f.Name)
		if err != nil {
			return nil, err
		}
		if present(dest, f.Size) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", f.Name, err)
		}
		marker, err := os.OpenFile(dest+types.IncompleteSuffix, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", dest+types.IncompleteSuffix, err)
		}
		if err := marker.Close(); err != nil {
			return nil, fmt.Errorf("create %s: %w", dest+types.IncompleteSuffix, err)
		}

		pending = append(pending, f)
	}

	t.logger.Debug("transfer planned",
		zap.Int("selected", len(selected)),
		zap.Int("pending", len(pending)),
	)
	return pending, nil
}

func present(dest string, size int64) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() == size
}

func (t *transfer) fetchFile(ctx context.Context, progress *mpb.Progress, f types.RemoteFileDescriptor, targetDir string, open opener) error {
	dest, err := localPath(targetDir, f.Name)
	if err != nil {
		return err
	}

	if present(dest, f.Size) {
		t.logger.Debug("file already present", zap.String("file", f.Name))
		return nil
	}

	rc, err := open(ctx, f)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := dest + types.IncompleteSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	var (
		src io.Reader = rc
		bar *mpb.Bar
	)
	if progress != nil {
		bar = progress.AddBar(f.Size,
			mpb.PrependDecorators(
				decor.Name(f.Name, decor.WC{W: 40, C: decor.DidentRight}),
				decor.CountersKibiByte("% .2f / % .2f"),
			),
			mpb.AppendDecorators(
				decor.EwmaETA(decor.ET_STYLE_GO, 90),
				decor.Name(" ] "),
				decor.EwmaSpeed(decor.UnitKiB, "% .2f", 60),
			),
		)
		src = bar.ProxyReader(rc)
	}

	hasher := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(out, hasher), src)
	closeErr := out.Close()

	if err := checkCopy(ctx, f, n, copyErr, closeErr); err != nil {
		if bar != nil {
			bar.Abort(false)
		}
		return err
	}

	if f.SHA256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(sum, f.SHA256) {
			if bar != nil {
				bar.Abort(false)
			}
			t.logger.Warn("removing file with bad checksum", zap.String("file", tmp))
			_ = os.Remove(tmp)
			return types.Errorf(types.KindVerificationFailed, "fetch", "%s: sha256 %s does not match manifest %s", f.Name, sum, f.SHA256)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("move %s into place: %w", f.Name, err)
	}
	if bar != nil {
		bar.SetTotal(-1, true)
	}

	t.logger.Debug("file transferred", zap.String("file", f.Name), zap.Int64("bytes", n))
	return nil
}

func checkCopy(ctx context.Context, f types.RemoteFileDescriptor, n int64, copyErr, closeErr error) error {
	if copyErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return fmt.Errorf("transfer %s: %w", f.Name, ctx.Err())
		}
		return types.NewError(types.KindTransientNetwork, "fetch", fmt.Errorf("transfer %s: %w", f.Name, copyErr))
	}
	if closeErr != nil {
		return fmt.Errorf("write %s: %w", f.Name, closeErr)
	}
	if n != f.Size {
		return types.Errorf(types.KindTransientNetwork, "fetch", "%s: got %d bytes, expected %d", f.Name, n, f.Size)
	}
	return nil
}

// localPath maps a slash separated manifest name into targetDir and
// rejects names that would escape it.
func localPath(targetDir, name string) (string, error) {
	rel := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(rel) {
		return "", types.Errorf(types.KindInvalidInput, "fetch", "manifest entry %q is not a relative path", name)
	}
	return filepath.Join(targetDir, rel), nil
}

// classifyRequestError maps a transport failure. Caller cancellation is
// passed through; everything else, deadlines included, is transient.
func classifyRequestError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return types.NewError(types.KindTransientNetwork, op, err)
}
