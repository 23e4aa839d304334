package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

const userAgent = "cozy-model-cache"

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// HuggingFaceClient talks to a HuggingFace compatible hub over HTTP.
type HuggingFaceClient struct {
	endpoint string
	opts     *options
	transfer *transfer
	logger   *zap.Logger
}

func NewHuggingFaceClient(endpoint string, opts ...Option) *HuggingFaceClient {
	o := newOptions(opts)
	return &HuggingFaceClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		opts:     o,
		transfer: o.transfer(),
		logger:   o.logger.Named("huggingface"),
	}
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	LFS  *struct {
		Oid  string `json:"oid"`
		Size int64  `json:"size"`
	} `json:"lfs,omitempty"`
}

func (c *HuggingFaceClient) GetManifest(ctx context.Context, artifactID string) ([]types.RemoteFileDescriptor, error) {
	next := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", c.endpoint, artifactID, url.PathEscape(c.opts.revision))

	var files []types.RemoteFileDescriptor
	for next != "" {
		var (
			page []treeEntry
			err  error
		)
		page, next, err = c.treePage(ctx, next)
		if err != nil {
			return nil, err
		}

		for _, e := range page {
			if e.Type != "file" {
				continue
			}
			var sha string
			size := e.Size
			if e.LFS != nil {
				sha = e.LFS.Oid
				size = e.LFS.Size
			}
			files = append(files, types.NewFileDescriptor(e.Path, size, sha))
		}
	}

	c.logger.Debug("fetched manifest", zap.String("artifact_id", artifactID), zap.Int("files", len(files)))
	return files, nil
}

func (c *HuggingFaceClient) treePage(ctx context.Context, pageURL string) ([]treeEntry, string, error) {
	resp, err := c.get(ctx, "manifest", pageURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var page []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", types.NewError(types.KindTransientNetwork, "manifest", fmt.Errorf("decode tree listing: %w", err))
	}

	var next string
	if m := nextLinkRe.FindStringSubmatch(resp.Header.Get("Link")); m != nil {
		next = m[1]
	}
	return page, next, nil
}

func (c *HuggingFaceClient) Fetch(ctx context.Context, artifactID string, allowPatterns []string, targetDir string) error {
	files, err := c.GetManifest(ctx, artifactID)
	if err != nil {
		return err
	}

	return c.transfer.run(ctx, files, allowPatterns, targetDir, func(ctx context.Context, f types.RemoteFileDescriptor) (io.ReadCloser, error) {
		resp, err := c.get(ctx, "fetch", c.resolveURL(artifactID, f.Name))
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
}

func (c *HuggingFaceClient) resolveURL(artifactID, name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, artifactID, url.PathEscape(c.opts.revision), strings.Join(parts, "/"))
}

// get returns the response only for a 200; the caller closes the body.
func (c *HuggingFaceClient) get(ctx context.Context, op, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, types.NewError(types.KindInvalidInput, op, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if c.opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.token)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(op, u, resp)
	}
	return resp, nil
}

func statusError(op, u string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("GET %s: %s: %s", u, resp.Status, strings.TrimSpace(string(body)))

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return types.NewError(types.KindNotFound, op, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return types.NewError(types.KindAuth, op, err)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return types.NewError(types.KindTransientNetwork, op, err)
	default:
		return types.NewError(types.KindInvalidInput, op, err)
	}
}
