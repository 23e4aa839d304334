package model_downloader

import (
	"errors"
	"testing"

	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnknown(t *testing.T) {
	sm := NewSubscriptionManager()
	ch, status := sm.Subscribe("org/name")
	assert.Nil(t, ch)
	assert.Equal(t, types.StatusUnknown, status)
}

func TestSubscribeReleasedOnReady(t *testing.T) {
	sm := NewSubscriptionManager()
	sm.SetModelStatus("org/name", types.StatusDownloading, nil)

	ch, status := sm.Subscribe("org/name")
	require.NotNil(t, ch)
	assert.Equal(t, types.StatusDownloading, status)

	sm.SetModelStatus("org/name", types.StatusReady, nil)
	assert.NoError(t, <-ch)

	ch, status = sm.Subscribe("org/name")
	assert.Equal(t, types.StatusReady, status)
	assert.NoError(t, <-ch)
}

func TestSubscribeReleasedOnFailure(t *testing.T) {
	sm := NewSubscriptionManager()
	sm.SetModelStatus("org/name", types.StatusDownloading, nil)
	ch, _ := sm.Subscribe("org/name")

	cause := types.Errorf(types.KindAuth, "fetch", "401")
	sm.SetModelStatus("org/name", types.StatusFailed, cause)

	err := <-ch
	assert.ErrorIs(t, err, ErrModelDownloadFailed)
	assert.Equal(t, types.KindAuth, types.KindOf(err))

	ch, _ = sm.Subscribe("org/name")
	assert.True(t, errors.Is(<-ch, ErrModelDownloadFailed))
}

func TestUnsubscribe(t *testing.T) {
	sm := NewSubscriptionManager()
	sm.SetModelStatus("org/name", types.StatusDownloading, nil)
	ch, _ := sm.Subscribe("org/name")

	sm.Unsubscribe("org/name", ch)
	sm.SetModelStatus("org/name", types.StatusReady, nil)

	select {
	case <-ch:
		t.Fatal("unsubscribed channel was notified")
	default:
	}
}
