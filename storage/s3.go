package storage

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	report "github.com/goliatone/go-report"
)

// ObjectAPI is the subset of *s3.Client the store writes with.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// URLSigner produces download links. *s3.PresignClient satisfies it.
type URLSigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// SigV4 refuses presigned URLs valid for longer than a week.
const maxPresign = 7 * 24 * time.Hour

// S3Config configures NewS3Client.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client loads AWS configuration. Static credentials are used when
// given; a custom endpoint switches to path-style addressing for
// S3-compatible services.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, report.NewError(report.ErrStorageFailed, "load aws config", err, nil)
	}

	if cfg.Endpoint != "" {
		return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}), nil
	}
	return s3.NewFromConfig(awsCfg), nil
}

// S3Store uploads artifacts to a bucket and hands out presigned GET URLs
// that stay valid until the artifact expires.
type S3Store struct {
	objects ObjectAPI
	signer URLSigner
	bucket string
	clock  func() time.Time
	logger report.Logger
}

type S3Option func(*S3Store)

func WithS3Logger(l report.Logger) S3Option {
	return func(s *S3Store) {
		s.logger = l
	}
}

func WithS3Clock(clock func() time.Time) S3Option {
	return func(s *S3Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewS3Store builds a store from a client.
func NewS3Store(client *s3.Client, bucket string, opts ...S3Option) *S3Store {
	return newS3Store(client, s3.NewPresignClient(client), bucket, opts...)
}

func newS3Store(objects ObjectAPI, signer URLSigner, bucket string, opts ...S3Option) *S3Store {
	s := &S3Store{objects: objects, signer: signer, bucket: bucket, clock: time.Now}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.logger = report.NormalizeLogger(s.logger)
	return s
}

func (s *S3Store) Store(ctx context.Context, data []byte, meta Metadata) (Stored, error) {
	key := Key(meta)
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			"report-id": meta.ReportID,
			"user-id":   meta.UserID,
			"type":      string(meta.Type),
		},
	}
	if meta.ContentType != "" {
		in.ContentType = aws.String(meta.ContentType)
	}
	if !meta.ExpiresAt.IsZero() {
		in.Expires = aws.Time(meta.ExpiresAt)
	}
	if _, err := s.objects.PutObject(ctx, in); err != nil {
		return Stored{}, storageError("put object", err, meta)
	}

	ttl := meta.ExpiresAt.Sub(s.clock())
	if meta.ExpiresAt.IsZero() || ttl <= 0 || ttl > maxPresign {
		ttl = maxPresign
	}
	signed, err := s.signer.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return Stored{}, storageError("presign object", err, meta)
	}

	s.logger.Debug("uploaded report %s to s3://%s/%s", meta.ReportID, s.bucket, key)
	return Stored{
		FileID:    key,
		URL:       signed.URL,
		ExpiresAt: meta.ExpiresAt,
		Size:      int64(len(data)),
	}, nil
}

// Delete removes the object. S3 treats a missing key as deleted.
func (s *S3Store) Delete(ctx context.Context, fileID string) error {
	_, err := s.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fileID),
	})
	if err != nil {
		return report.NewError(report.ErrStorageFailed, "delete object", err, map[string]any{
			"bucket":  s.bucket,
			"file_id": fileID,
		})
	}
	s.logger.Debug("deleted s3://%s/%s", s.bucket, fileID)
	return nil
}
