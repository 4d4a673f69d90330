package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// MinPartSize is the smallest part size S3 accepts for multipart uploads.
	MinPartSize = manager.MinUploadPartSize
	// MaxParts is the part limit of a single multipart upload.
	MaxParts = int64(manager.MaxUploadParts)
)

// PartCount returns the number of parts an object of size bytes is split
// into. Above MaxParts the uploader raises the part size on its own, so the
// resulting ETag no longer matches a fingerprint taken with partSize.
func PartCount(size, partSize int64) int64 {
	if size <= 0 || partSize <= 0 {
		return 1
	}
	return (size + partSize - 1) / partSize
}

type S3Client struct {
	s3Client *s3.Client
	uploader *manager.Uploader
	config   *S3Config
}

func NewS3Client(s3Client *s3.Client, cfg *S3Config) *S3Client {
	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		if cfg.PartSize >= MinPartSize {
			u.PartSize = cfg.PartSize
		}
		u.Concurrency = 1
	})
	return &S3Client{
		s3Client: s3Client,
		uploader: uploader,
		config:   cfg,
	}
}

// NewS3ClientWithConfig connects to the bucket described by cfg.
func NewS3ClientWithConfig(ctx context.Context, cfg *S3Config) (*S3Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	} else {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config for profile %q: %w", cfg.Profile, err)
	}

	awsClient := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// custom endpoints (minio, localstack, ...) rarely support virtual hosts
		if o.BaseEndpoint != nil {
			o.UsePathStyle = true
		}
	})

	slog.Debug("s3 client", "profile", cfg.Profile, "bucket", cfg.Bucket, "region", awsCfg.Region, "endpoint", aws.ToString(awsCfg.BaseEndpoint))
	return NewS3Client(awsClient, cfg), nil
}

// ===================================================================================================

func (s *S3Client) ListObjects(ctx context.Context, prefix string) ([]*ObjectInfo, error) {
	var objects []*ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: &s.config.Bucket,
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, &ObjectInfo{
				Key:          aws.ToString(obj.Key),
				ETag:         trimETag(obj.ETag),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

func (s *S3Client) HeadObject(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, mapError(key, err)
	}

	return &ObjectInfo{
		Key:          key,
		ETag:         trimETag(resp.ETag),
		Size:         aws.ToInt64(resp.ContentLength),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// ===================================================================================================

func (s *S3Client) GetObject(ctx context.Context, key string) (*GetObjectResponse, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, mapError(key, err)
	}

	return &GetObjectResponse{
		Body:         resp.Body,
		Size:         aws.ToInt64(resp.ContentLength),
		ETag:         trimETag(resp.ETag),
		LastModified: aws.ToTime(resp.LastModified),
	}, nil
}

// PutObject uploads through the multipart manager. Objects larger than the
// part size become multipart objects with one part per chunk.
func (s *S3Client) PutObject(ctx context.Context, params *PutObjectParams) (*PutObjectResponse, error) {
	input := &s3.PutObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &params.Key,
		Body:   params.Body,
	}
	if params.Size >= 0 && params.Size < s.uploader.PartSize {
		input.ContentLength = aws.Int64(params.Size)
	}
	if parts := PartCount(params.Size, s.uploader.PartSize); parts > MaxParts {
		slog.Warn("upload part size raised", "key", params.Key, "size", params.Size, "parts", parts, "max", MaxParts, "reason", "fingerprint will not match")
	}

	resp, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", params.Key, err)
	}

	return &PutObjectResponse{
		Key:  params.Key,
		Size: params.Size,
		ETag: trimETag(resp.ETag),
	}, nil
}

// ===================================================================================================

func (s *S3Client) DeleteObject(ctx context.Context, key string) (bool, error) {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.config.Bucket,
		Key:    &key,
	})
	if err != nil {
		return false, mapError(key, err)
	}
	return true, nil
}

// ===================================================================================================

func trimETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

func mapError(key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var re *awshttp.ResponseError
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &notFound):
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	case errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound:
		return fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	return fmt.Errorf("%s: %w", key, err)
}

// check if S3Client implements Client interface
var _ Client = (*S3Client)(nil)
