package model_downloader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cozy-creator/model-cache/internal/types"
)

var ErrModelDownloadFailed = errors.New("model download failed")

// SubscriptionManager tracks the status of each artifact and wakes callers
// waiting for a download to settle.
type SubscriptionManager struct {
	mu              sync.RWMutex
	modelStatus     map[string]types.DownloadStatus
	lastErr         map[string]error
	pendingRequests map[string][]chan error
}

func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		modelStatus:     make(map[string]types.DownloadStatus),
		lastErr:         make(map[string]error),
		pendingRequests: make(map[string][]chan error),
	}
}

func failureError(err error) error {
	if err == nil {
		return ErrModelDownloadFailed
	}
	return fmt.Errorf("%w: %w", ErrModelDownloadFailed, err)
}

// SetModelStatus records status. Ready and failed release every pending
// subscriber; err is the failure cause, if any.
func (sm *SubscriptionManager) SetModelStatus(modelID string, status types.DownloadStatus, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.modelStatus[modelID] = status
	if status == types.StatusFailed {
		sm.lastErr[modelID] = err
	} else {
		delete(sm.lastErr, modelID)
	}

	if status != types.StatusReady && status != types.StatusFailed {
		return
	}

	var result error
	if status == types.StatusFailed {
		result = failureError(err)
	}
	for _, ch := range sm.pendingRequests[modelID] {
		ch <- result
		close(ch)
	}
	delete(sm.pendingRequests, modelID)
}

func (sm *SubscriptionManager) GetModelStatus(modelID string) types.DownloadStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.modelStatus[modelID]
}

// Subscribe returns a channel that receives nil once modelID is ready or an
// error once it failed. A settled status is delivered immediately. The
// status seen at subscription time is returned alongside; for
// StatusUnknown the channel is nil since nothing is in flight.
func (sm *SubscriptionManager) Subscribe(modelID string) (<-chan error, types.DownloadStatus) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	status := sm.modelStatus[modelID]
	resultChan := make(chan error, 1)

	switch status {
	case types.StatusReady:
		resultChan <- nil
		close(resultChan)
	case types.StatusFailed:
		resultChan <- failureError(sm.lastErr[modelID])
		close(resultChan)
	case types.StatusDownloading:
		sm.pendingRequests[modelID] = append(sm.pendingRequests[modelID], resultChan)
	default:
		return nil, status
	}

	return resultChan, status
}

// Unsubscribe drops a pending channel, e.g. when its waiter gave up.
func (sm *SubscriptionManager) Unsubscribe(modelID string, ch <-chan error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	pending := sm.pendingRequests[modelID]
	for i, c := range pending {
		if c == ch {
			sm.pendingRequests[modelID] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	if len(sm.pendingRequests[modelID]) == 0 {
		delete(sm.pendingRequests, modelID)
	}
}
