package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cozy-creator/model-cache/internal/services/retry"
	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

const probeTimeout = 10 * time.Second

// Resolver is the part of *net.Resolver the checker uses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Result struct {
	Target    string        `json:"target"`
	Addresses []string      `json:"addresses,omitempty"`
	Status    int           `json:"status,omitempty"`
	Latency   time.Duration `json:"latency"`
	Err       error         `json:"-"`
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Checker probes DNS and HTTPS reachability of a set of endpoints.
type Checker struct {
	targets    []string
	resolver   Resolver
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Checker)

func WithResolver(r Resolver) Option {
	return func(c *Checker) { c.resolver = r }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Checker) { c.httpClient = hc }
}

func NewChecker(targets []string, logger *zap.Logger, opts ...Option) *Checker {
	c := &Checker{
		targets:    targets,
		resolver:   net.DefaultResolver,
		httpClient: &http.Client{Timeout: probeTimeout},
		logger:     logger.Named("connectivity"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check probes every target and returns one result per target. The error
// is a TransientNetworkError joining every failed probe.
func (c *Checker) Check(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(c.targets))
	var errs []error
	for _, target := range c.targets {
		res := c.probe(ctx, target)
		if res.OK() {
			c.logger.Info("endpoint reachable",
				zap.String("target", target),
				zap.Strings("addresses", res.Addresses),
				zap.Int("status", res.Status),
				zap.Duration("latency", res.Latency),
			)
		} else {
			c.logger.Warn("endpoint unreachable", zap.String("target", target), zap.Error(res.Err))
			errs = append(errs, res.Err)
		}
		results = append(results, res)
	}

	if len(errs) > 0 {
		if errors.Is(ctx.Err(), context.Canceled) {
			return results, ctx.Err()
		}
		return results, types.NewError(types.KindTransientNetwork, "connectivity", errors.Join(errs...))
	}
	return results, nil
}

func (c *Checker) probe(ctx context.Context, target string) (res Result) {
	res.Target = target
	start := time.Now()
	defer func() { res.Latency = time.Since(start) }()

	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		res.Err = fmt.Errorf("invalid endpoint %q", target)
		return res
	}

	addrs, err := c.resolver.LookupHost(ctx, u.Hostname())
	if err != nil {
		res.Err = fmt.Errorf("resolve %s: %w", u.Hostname(), err)
		return res
	}
	res.Addresses = addrs

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		res.Err = err
		return res
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("connect %s: %w", target, err)
		return res
	}
	resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode >= 500 {
		res.Err = fmt.Errorf("%s answered %s", target, resp.Status)
	}
	return res
}

// WaitForNetwork repeats Check under p until every target answers. Any
// probe failure is retried.
func (c *Checker) WaitForNetwork(ctx context.Context, p retry.Policy) error {
	p.Retryable = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	return retry.Run(ctx, p, "wait for network", func(ctx context.Context) error {
		_, err := c.Check(ctx)
		return err
	})
}
