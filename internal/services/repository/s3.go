package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cozy-creator/model-cache/internal/config"
	"github.com/cozy-creator/model-cache/internal/types"
	"go.uber.org/zap"
)

// S3API is the part of *s3.Client the mirror client uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Client serves artifacts mirrored into a bucket as
// <prefix>/<org>/<name>/<file>.
type S3Client struct {
	api      S3API
	bucket   string
	prefix   string
	transfer *transfer
	logger   *zap.Logger
}

func NewS3Client(ctx context.Context, cfg *config.S3Config, opts ...Option) (*S3Client, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, config.ErrS3BucketNotSet
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointUrl != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointUrl)
			o.UsePathStyle = true
		}
	})

	return NewS3ClientFromAPI(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

func NewS3ClientFromAPI(api S3API, bucket, prefix string, opts ...Option) *S3Client {
	o := newOptions(opts)
	return &S3Client{
		api:      api,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		transfer: o.transfer(),
		logger:   o.logger.Named("s3"),
	}
}

func (c *S3Client) keyPrefix(artifactID string) string {
	return path.Join(c.prefix, artifactID) + "/"
}

func (c *S3Client) GetManifest(ctx context.Context, artifactID string) ([]types.RemoteFileDescriptor, error) {
	base := c.keyPrefix(artifactID)
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(base),
	})

	var files []types.RemoteFileDescriptor
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(ctx, "manifest", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), base)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			files = append(files, types.NewFileDescriptor(name, aws.ToInt64(obj.Size), ""))
		}
	}

	if len(files) == 0 {
		return nil, types.Errorf(types.KindNotFound, "manifest", "no objects under s3://%s/%s", c.bucket, base)
	}

	c.logger.Debug("fetched manifest", zap.String("artifact_id", artifactID), zap.Int("files", len(files)))
	return files, nil
}

func (c *S3Client) Fetch(ctx context.Context, artifactID string, allowPatterns []string, targetDir string) error {
	files, err := c.GetManifest(ctx, artifactID)
	if err != nil {
		return err
	}

	base := c.keyPrefix(artifactID)
	return c.transfer.run(ctx, files, allowPatterns, targetDir, func(ctx context.Context, f types.RemoteFileDescriptor) (io.ReadCloser, error) {
		out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(base + f.Name),
		})
		if err != nil {
			return nil, classifyS3Error(ctx, "fetch", err)
		}
		return out.Body, nil
	})
}

func classifyS3Error(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	var (
		noKey    *s3types.NoSuchKey
		noBucket *s3types.NoSuchBucket
	)
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return types.NewError(types.KindNotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "Forbidden", "ExpiredToken":
			return types.NewError(types.KindAuth, op, err)
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return types.NewError(types.KindNotFound, op, err)
		case "InvalidBucketName", "InvalidArgument":
			return types.NewError(types.KindInvalidInput, op, err)
		}
	}

	return types.NewError(types.KindTransientNetwork, op, err)
}
