package repository

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cozy-creator/model-cache/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeS3 serves objects from memory, one key per page.
type fakeS3 struct {
	objects map[string][]byte
	listErr error
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if len(keys) == 0 {
		return out, nil
	}
	k := keys[0]
	out.Contents = []s3types.Object{{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))}}
	if len(keys) > 1 {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(k)
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{
		"mirror/test/model/":                  nil,
		"mirror/test/model/config.json":       []byte(`{}`),
		"mirror/test/model/model.safetensors": bytes.Repeat([]byte("w"), 512),
		"mirror/test/model/docs/notes.md":     []byte("notes"),
		"mirror/other/model/config.json":      []byte(`{}`),
	}}
}

func TestS3Manifest(t *testing.T) {
	c := NewS3ClientFromAPI(newFakeS3(), "models", "/mirror/", WithLogger(zaptest.NewLogger(t)))

	files, err := c.GetManifest(context.Background(), "test/model")
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"config.json", "model.safetensors", "docs/notes.md"}, names)
}

func TestS3MissingArtifact(t *testing.T) {
	c := NewS3ClientFromAPI(newFakeS3(), "models", "mirror", WithLogger(zaptest.NewLogger(t)))
	_, err := c.GetManifest(context.Background(), "missing/model")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestS3Fetch(t *testing.T) {
	c := NewS3ClientFromAPI(newFakeS3(), "models", "mirror", WithLogger(zaptest.NewLogger(t)))
	dir := t.TempDir()

	require.NoError(t, c.Fetch(context.Background(), "test/model", []string{"*.json", "*.safetensors"}, dir))
	assert.FileExists(t, filepath.Join(dir, "config.json"))
	assert.FileExists(t, filepath.Join(dir, "model.safetensors"))
	assert.NoFileExists(t, filepath.Join(dir, "docs", "notes.md"))
}

func TestS3ErrorClassification(t *testing.T) {
	cases := map[string]types.ErrorKind{
		"AccessDenied":  types.KindAuth,
		"NoSuchBucket":  types.KindNotFound,
		"SlowDown":      types.KindTransientNetwork,
		"InternalError": types.KindTransientNetwork,
	}
	for code, kind := range cases {
		t.Run(code, func(t *testing.T) {
			api := newFakeS3()
			api.listErr = &smithy.GenericAPIError{Code: code, Message: "boom"}
			c := NewS3ClientFromAPI(api, "models", "mirror", WithLogger(zaptest.NewLogger(t)))

			_, err := c.GetManifest(context.Background(), "test/model")
			assert.Equal(t, kind, types.KindOf(err))
		})
	}
}
