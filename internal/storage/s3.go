package storage

import (
	"alcyxob/video-app/internal/config"
	"alcyxob/video-app/internal/domain"
	"alcyxob/video-app/internal/logging"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config" // Alias config to avoid clash
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver mirrors completed videos to an S3-compatible bucket and hands out
// presigned download links for them.
type S3Archiver struct {
	client        *s3.Client        // Regular client for uploads
	presignClient *s3.PresignClient // Special client for generating presigned URLs
	bucketName    string
	local         *LocalStore
	logger        *slog.Logger
}

// NewS3Archiver creates a new S3 archiver reading source files from local.
func NewS3Archiver(cfg config.S3Config, local *LocalStore, logger *slog.Logger) (*S3Archiver, error) {
	// Custom resolver for S3-compatible endpoints (like MinIO, DigitalOcean Spaces)
	endpoint := EndpointURL(cfg.Endpoint, cfg.UseSSL)
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if endpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		// Fallback to default AWS endpoint resolution if no custom endpoint is set
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	opts := []func(*awsCfg.LoadOptions) error{
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithEndpointResolverWithOptions(customResolver),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsCfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsSDKConfig, err := awsCfg.LoadDefaultConfig(context.TODO(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// Force path-style addressing required by most S3-compatible services (like MinIO)
	s3Client := s3.NewFromConfig(awsSDKConfig, func(o *s3.Options) {
		o.UsePathStyle = endpoint != ""
	})

	logger = logging.WithComponent(logger, "s3")
	logger.Info("S3 archiver initialized", "endpoint", endpoint, "bucket", cfg.BucketName)

	return &S3Archiver{
		client:        s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    cfg.BucketName,
		local:         local,
		logger:        logger,
	}, nil
}

// EndpointURL adds a scheme to a bare host:port endpoint, https when useSSL
// is set. Endpoints that already carry a scheme are returned unchanged.
func EndpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// ObjectKey is where a video's file is stored in the bucket.
func ObjectKey(video *domain.Video) string {
	return "videos/" + video.OwnerID.Hex() + "/" + video.StoredFileName
}

// ArchiveVideo uploads the video's local file and returns its object key.
func (s *S3Archiver) ArchiveVideo(ctx context.Context, video *domain.Video) (string, error) {
	f, err := s.local.Open(video.StoredFileName)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", video.StoredFileName, err)
	}
	defer f.Close()

	key := ObjectKey(video)
	if err := s.Archive(ctx, key, f, video.MimeType); err != nil {
		return "", err
	}
	return key, nil
}

// Archive uploads f under key.
func (s *S3Archiver) Archive(ctx context.Context, key string, f *os.File, contentType string) error {

	info, err := f.Stat()
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	s.logger.Info("uploaded object", "key", key, "bytes", info.Size())
	return nil
}

// PresignDownload creates a temporary URL for downloading (GET).
func (s *S3Archiver) PresignDownload(ctx context.Context, key string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultPresignedURLExpiry
	}

	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		s.logger.Error("failed to presign download", "key", key, "error", err)
		return "", err
	}
	return req.URL, nil
}
