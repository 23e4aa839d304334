package repository

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

// Client lists and materializes the files of a remote artifact.
//
// GetManifest fails with NotFound, AuthError or TransientNetworkError.
// Fetch writes the files matching allowPatterns (all files when empty)
// into targetDir and fails with TransientNetworkError or AuthError.
type Client interface {
	GetManifest(ctx context.Context, artifactID string) ([]types.RemoteFileDescriptor, error)
	Fetch(ctx context.Context, artifactID string, allowPatterns []string, targetDir string) error
}

type options struct {
	logger     *zap.Logger
	httpClient *http.Client
	token      string
	revision   string
	workers    int
	progress   io.Writer
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithToken sets the bearer token sent to the hub. The token is passed
// through as-is.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

func WithRevision(revision string) Option {
	return func(o *options) { o.revision = revision }
}

// WithWorkers bounds how many files are transferred at once.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithProgress renders progress bars to w. Nil disables them.
func WithProgress(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:   zap.NewNop(),
		revision: "main",
		workers:  4,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient()
	}
	return o
}

func (o *options) transfer() *transfer {
	return &transfer{
		logger:   o.logger.Named("transfer"),
		workers:  o.workers,
		progress: o.progress,
	}
}

// newHTTPClient has no overall timeout; large files are bounded by the
// caller's context instead.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 60 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   60 * time.Second,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       60 * time.Second,
		},
	}
}
