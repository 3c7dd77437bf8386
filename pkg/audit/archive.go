package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rbacd/pkg/observability"
)

var tracer = otel.Tracer("github.com/platinummonkey/rbacd/pkg/audit")

// ObjectPutter is the subset of the S3 client the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the archive bucket
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	DeleteLocal  bool
}

// NewS3Client builds an S3 client, using static credentials when both keys
// are set and the default credential chain otherwise
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Archiver uploads rotated audit files to a bucket
type S3Archiver struct {
	client  ObjectPutter
	cfg     S3Config
	pending chan string
}

// NewS3Archiver creates an archiver
func NewS3Archiver(client ObjectPutter, cfg S3Config) *S3Archiver {
	return &S3Archiver{
		client:  client,
		cfg:     cfg,
		pending: make(chan string, 64),
	}
}

// Key returns the object key for a local file
func (a *S3Archiver) Key(path string) string {
	base := filepath.Base(path)
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// Archive uploads one file
func (a *S3Archiver) Archive(ctx context.Context, path string) error {
	key := a.Key(path)
	ctx, span := tracer.Start(ctx, "S3Archiver.Archive",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.cfg.Bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open file")
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return fmt.Errorf("failed to upload audit file %s: %w", key, err)
	}

	if a.cfg.DeleteLocal {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove archived file: %w", err)
		}
	}
	return nil
}

// OnRotate queues a rotated file for upload. Plug it into FileSinkConfig.
// The file stays on disk when the queue is full.
func (a *S3Archiver) OnRotate(path string) {
	select {
	case a.pending <- path:
	default:
	}
}

// Run uploads queued files until ctx is done
func (a *S3Archiver) Run(ctx context.Context) {
	logger := observability.FromContext(ctx).WithField("component", "audit_archiver")
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-a.pending:
			if err := a.Archive(ctx, path); err != nil {
				logger.WithError(err).Warnf("failed to archive %s", path)
				continue
			}
			logger.Infof("archived %s to s3://%s/%s", path, a.cfg.Bucket, a.Key(path))
		}
	}
}
