package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/hugo-lorenzo-mato/crashrelay/internal/core"
)

// ObjectPutter is the part of the S3 client the transport needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config selects the bucket and credentials for S3Transport. Empty keys
// fall back to the default AWS credential chain.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3Transport stores each artifact as an object under Prefix.
type S3Transport struct {
	client ObjectPutter
	bucket string
	prefix string
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3Transport builds an S3 client from cfg.
func NewS3Transport(ctx context.Context, cfg S3Config) (*S3Transport, error) {
	if cfg.Bucket == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "s3 bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3TransportWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3TransportWithClient wraps an existing client.
func NewS3TransportWithClient(client ObjectPutter, bucket, prefix string) *S3Transport {
	return &S3Transport{client: client, bucket: bucket, prefix: prefix}
}

// Name implements core.Transport.
func (t *S3Transport) Name() string { return "s3" }

// Key returns the object key for a report.
func (t *S3Transport) Key(id core.ReportID) string {
	return path.Join(t.prefix, id.String())
}

// Send implements core.Transport. The body is buffered so the artifact is
// verified before the request starts and the SDK can sign a seekable payload.
func (t *S3Transport) Send(ctx context.Context, sub core.Submission) (core.Receipt, error) {
	data, err := io.ReadAll(sub.Body)
	if err != nil {
		return core.Receipt{}, err
	}

	key := t.Key(sub.ReportID)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"report-id":  sub.ReportID.String(),
			"urgent":     strconv.FormatBool(sub.Urgent),
			"digest":     sub.Digest,
			"created-at": sub.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if sub.Encoding != "" && sub.Encoding != "identity" {
		in.ContentEncoding = aws.String(sub.Encoding)
	}

	out, err := t.client.PutObject(ctx, in)
	if err != nil {
		return core.Receipt{}, classifyS3Error(err)
	}

	ref := key
	if out != nil && out.ETag != nil {
		ref = key + "@" + aws.ToString(out.ETag)
	}
	return core.Receipt{Reference: ref}, nil
}

// classifyS3Error marks access and bucket errors permanent and everything
// else retryable.
func classifyS3Error(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidBucketName":
			return core.ErrUpload("s3 rejected upload: "+apiErr.ErrorCode(), false).WithCause(err)
		}
		return core.ErrUpload("s3 upload failed: "+apiErr.ErrorCode(), true).WithCause(err)
	}
	return core.ErrUpload("s3 upload failed", true).WithCause(err)
}

var _ core.Transport = (*S3Transport)(nil)
