package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/genevault/internal/common"
	"github.com/google/uuid"
)

const (
	s3KeyPrefix = "blobs/"
	spoolPrefix = ".s3spool-"
)

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds the settings for an S3-compatible backend (AWS or MinIO).
type S3Config struct {
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
	// SpoolDir holds ciphertext while it is uploaded; empty means os.TempDir().
	SpoolDir string
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// NewS3Client builds an SDK client with static credentials and, when set, a
// custom endpoint using path-style addressing.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store stores each blob as one object. S3 object writes are atomic, so a
// failed upload never produces a visible object.
type S3Store struct {
	client   S3API
	bucket   string
	spoolDir string
	now      func() time.Time
}

func NewS3Store(client S3API, bucket, spoolDir string) *S3Store {
	return &S3Store{client: client, bucket: bucket, spoolDir: spoolDir, now: time.Now}
}

func (s *S3Store) newKey() string {
	d := s.now().UTC()
	return fmt.Sprintf("%s%d/%d/%d/%s", s3KeyPrefix, d.Year(), d.Month(), d.Day(), uuid.New())
}

// Put spools r to a private temp file first: the SDK needs a seekable body of
// known length to sign the request, and the stream must not sit in memory.
func (s *S3Store) Put(ctx context.Context, r io.Reader) (Handle, error) {
	spool, err := os.CreateTemp(s.spoolDir, spoolPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	size, err := io.Copy(spool, ctxReader{ctx: ctx, r: r})
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrStorageWriteFailure, err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrStorageWriteFailure, err)
	}

	key := s.newKey()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          spool,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object: %w", common.ErrStorageWriteFailure, err)
	}
	return Handle(key), nil
}

func (s *S3Store) Get(ctx context.Context, h Handle) (io.ReadCloser, error) {
	if !strings.HasPrefix(string(h), s3KeyPrefix) {
		return nil, fmt.Errorf("%w: malformed handle %q", common.ErrBlobNotFound, h)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", common.ErrBlobNotFound, h)
		}
		return nil, fmt.Errorf("blob: get object %s: %w", h, err)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, h Handle) error {
	if !strings.HasPrefix(string(h), s3KeyPrefix) {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(h)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("blob: delete object %s: %w", h, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// SweepPartial removes spool files older than grace, left behind when the
// process died during a Put. It returns the number removed.
func (s *S3Store) SweepPartial(grace time.Duration) (int, error) {
	dir := s.spoolDir
	if dir == "" {
		dir = os.TempDir()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("blob: read spool dir: %w", err)
	}

	cutoff := s.now().Add(-grace)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), spoolPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
