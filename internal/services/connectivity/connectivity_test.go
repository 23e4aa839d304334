package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cozy-creator/model-cache/internal/services/retry"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeResolver struct {
	err error
}

func (r fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []string{"127.0.0.1"}, nil
}

func TestCheckReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	c := NewChecker([]string{srv.URL}, zaptest.NewLogger(t), WithResolver(fakeResolver{}))
	results, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, http.StatusOK, results[0].Status)
	assert.Equal(t, []string{"127.0.0.1"}, results[0].Addresses)
}

func TestCheckFailures(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	c := NewChecker([]string{down.URL, "not a url"}, zaptest.NewLogger(t), WithResolver(fakeResolver{}))
	results, err := c.Check(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.KindTransientNetwork, types.KindOf(err))
	require.Len(t, results, 2)
	assert.False(t, results[0].OK())
	assert.False(t, results[1].OK())
}

func TestCheckDNSFailure(t *testing.T) {
	c := NewChecker([]string{"https://huggingface.co"}, zaptest.NewLogger(t), WithResolver(fakeResolver{err: errors.New("no such host")}))
	results, err := c.Check(context.Background())
	assert.Equal(t, types.KindTransientNetwork, types.KindOf(err))
	assert.Contains(t, results[0].Err.Error(), "resolve huggingface.co")
}

func TestWaitForNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewChecker([]string{srv.URL}, zaptest.NewLogger(t), WithResolver(fakeResolver{}))
	p := retry.NewPolicy(5, 0, zaptest.NewLogger(t))
	p.FixedDelay = time.Millisecond

	require.NoError(t, c.WaitForNetwork(context.Background(), p))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWaitForNetworkGivesUp(t *testing.T) {
	c := NewChecker([]string{"https://example.invalid"}, zaptest.NewLogger(t), WithResolver(fakeResolver{err: errors.New("no such host")}))
	p := retry.NewPolicy(2, 0, zaptest.NewLogger(t))
	p.FixedDelay = time.Millisecond

	err := c.WaitForNetwork(context.Background(), p)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
}
