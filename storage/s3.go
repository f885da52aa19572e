package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/zk-keyservice/interfaces"
)

// S3Backend implements a storage backend using Amazon S3 or compatible services.
// Reads may use anonymous access; writes and deletes need credentials.
type S3Backend struct {
	client         *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3Backend creates a new S3 storage backend.
// If accessKey and secretKey are provided, the backend will have write access.
// Otherwise it relies on the bucket policy, which suits read-only directory mirrors.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	query := url.Values{"region": {region}}
	if endpoint != "" {
		query.Set("endpoint", endpoint)
	}
	uri := fmt.Sprintf("s3://%s/%s?%s", bucketName, prefix, query.Encode())
	if accessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?%s", accessKey, bucketName, prefix, query.Encode())
	}

	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		// S3-compatible stores (minio, localstack) need path-style addressing.
		cfg = cfg.WithEndpoint(endpoint).WithS3ForcePathStyle(true)
	}

	hasWriteAccess := accessKey != "" && secretKey != ""
	if hasWriteAccess {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	} else {
		cfg = cfg.WithCredentials(credentials.AnonymousCredentials)
		log.Warn("No S3 credentials provided, backend is read-only unless the bucket policy allows anonymous writes",
			slog.String("bucket", bucketName))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := s3.New(sess)

	return &S3Backend{
		client:         client,
		bucketName:     bucketName,
		prefix:         strings.Trim(prefix, "/"),
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Get retrieves the object stored under key.
// Returns ErrContentNotFound if the object doesn't exist.
func (b *S3Backend) Get(ctx context.Context, key interfaces.BlobKey) ([]byte, error) {
	start := time.Now()
	objectKey, err := b.getObjectKey(key)
	if err != nil {
		return nil, err
	}

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Blob not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", objectKey),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrContentNotFound
		}

		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to get object from S3: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		b.log.Error("Failed to read object body",
			slog.String("bucket", b.bucketName),
			slog.String("key", objectKey),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: failed to read object body: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Fetched blob from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Put uploads data under key. Objects are written without a public ACL.
func (b *S3Backend) Put(ctx context.Context, key interfaces.BlobKey, data []byte) error {
	objectKey, err := b.getObjectKey(key)
	if err != nil {
		return err
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		if !b.hasWriteAccess {
			return fmt.Errorf("%w: failed to upload object to S3 (no write credentials provided): %v", interfaces.ErrBackendUnavailable, err)
		}
		return fmt.Errorf("%w: failed to upload object to S3: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored blob in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (b *S3Backend) Delete(ctx context.Context, key interfaces.BlobKey) error {
	objectKey, err := b.getObjectKey(key)
	if err != nil {
		return err
	}

	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("%w: failed to delete object from S3: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Deleted blob from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", objectKey))
	return nil
}

// Available checks if the S3 backend is accessible by attempting to head the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	start := time.Now()

	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})

	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) getObjectKey(key interfaces.BlobKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if b.prefix == "" {
		return string(key), nil
	}
	return path.Join(b.prefix, string(key)), nil
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
