package cachestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const lockRetryDelay = 100 * time.Millisecond

// entryLock is a ref-counted, context-aware mutex for one artifact.
type entryLock struct {
	sem  chan struct{}
	refs int
}

// Lock serializes work on one artifact. Inside the process callers queue on
// a keyed mutex; across processes a flock on <root>/.locks/<dir>.lock does
// the same. The returned func releases both.
func (s *Store) Lock(ctx context.Context, artifactID string) (func(), error) {
	if err := ValidateArtifactID(artifactID); err != nil {
		return nil, err
	}

	key := DirName(artifactID)
	release, err := s.lockLocal(ctx, key)
	if err != nil {
		return nil, err
	}

	fl, err := s.fileLock(key)
	if err != nil {
		release()
		return nil, err
	}

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		release()
		if err == nil {
			err = fmt.Errorf("could not lock %s", artifactID)
		}
		return nil, err
	}

	return s.unlocker(key, fl, release), nil
}

// TryLockEntry takes the lock of the entry directory dirName without
// waiting. ok is false when another caller, in this process or another,
// holds it.
func (s *Store) TryLockEntry(dirName string) (unlock func(), ok bool, err error) {
	release, ok := s.tryLockLocal(dirName)
	if !ok {
		return nil, false, nil
	}

	fl, err := s.fileLock(dirName)
	if err != nil {
		release()
		return nil, false, err
	}

	locked, err := fl.TryLock()
	if err != nil || !locked {
		release()
		return nil, false, err
	}

	return s.unlocker(dirName, fl, release), true, nil
}

func (s *Store) fileLock(key string) (*flock.Flock, error) {
	lockDir := filepath.Join(s.root, lockDirName)
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return flock.New(filepath.Join(lockDir, key+".lock")), nil
}

func (s *Store) unlocker(key string, fl *flock.Flock, release func()) func() {
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release lock file", zap.String("entry", key), zap.Error(err))
		}
		release()
	}
}

// ref returns the keyed lock with its reference taken, and the func that
// drops the reference.
func (s *Store) ref(key string) (*entryLock, func()) {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{sem: make(chan struct{}, 1)}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	return lock, func() {
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *Store) lockLocal(ctx context.Context, key string) (func(), error) {
	lock, unref := s.ref(key)

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		unref()
		return nil, ctx.Err()
	}

	return func() {
		<-lock.sem
		unref()
	}, nil
}

func (s *Store) tryLockLocal(key string) (func(), bool) {
	lock, unref := s.ref(key)

	select {
	case lock.sem <- struct{}{}:
	default:
		unref()
		return nil, false
	}

	return func() {
		<-lock.sem
		unref()
	}, true
}
