package destination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/ledgervault/internal/common"
)

// Seams for testing the SDK wiring without a live endpoint.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// s3API is the subset of the S3 client the adapter uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds credentials and addressing for one S3-compatible backend
// (AWS, MinIO, etc.).
type S3Config struct {
	Name         string
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	// Prefix namespaces this installation's blobs inside the bucket.
	Prefix string
}

// S3Store stores archive blobs as objects in one bucket. S3 PUTs are
// last-writer-wins per key, which gives upload idempotence for free.
type S3Store struct {
	name   string
	bucket string
	prefix string
	client s3API
}

func NewS3Store(ctx context.Context, c S3Config) (*S3Store, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(c.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("%w: s3 config for %s: %v", common.ErrDestinationRejected, c.Name, err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return &S3Store{name: c.Name, bucket: c.Bucket, prefix: c.Prefix, client: client}, nil
}

func (s *S3Store) Name() string { return s.name }

func (s *S3Store) key(label string) string {
	if s.prefix == "" {
		return label
	}
	return path.Join(s.prefix, label)
}

func (s *S3Store) Upload(ctx context.Context, label, blobPath string) (string, error) {
	data, err := os.ReadFile(blobPath)
	if err != nil {
		return "", fmt.Errorf("read blob %s: %w", blobPath, err)
	}

	key := s.key(label)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", classify(err, fmt.Sprintf("upload %s to %s", label, s.name))
	}

	return key, nil
}

func (s *S3Store) Download(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return nil, classify(err, fmt.Sprintf("download %s from %s", ref, s.name))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %v", common.ErrDestinationUnreachable, ref, err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, classify(err, fmt.Sprintf("list %s", s.name))
		}

		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Ref:       aws.ToString(obj.Key),
				SizeBytes: aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	return objects, nil
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return classify(err, fmt.Sprintf("delete %s from %s", ref, s.name))
	}
	return nil
}

// rejectionCodes are API error codes that retrying cannot fix: bad
// credentials or an unwilling backend.
var rejectionCodes = map[string]struct{}{
	"AccessDenied":          {},
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"AccountProblem":        {},
	"QuotaExceeded":         {},
	"NoSuchBucket":          {},
	"AllAccessDisabled":     {},
	"InvalidBucketName":     {},
	"TokenRefreshRequired":  {},
	"ExpiredToken":          {},
	"InvalidSecurity":       {},
	"NotSignedUp":           {},
}

// classify maps an SDK error to the engine's destination taxonomy:
// auth/quota responses are rejections, everything else (timeouts, DNS,
// connection resets, 5xx) is a transport failure worth retrying.
func classify(err error, op string) error {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		if _, ok := rejectionCodes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s: %v", common.ErrDestinationRejected, op, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", common.ErrDestinationUnreachable, op, err)
}
