// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package capturestore keeps capture files in an S3 bucket.
package capturestore // import "github.com/orbit-profiler/orbit/capturestore"

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	sha256 "github.com/minio/sha256-simd"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// URLScheme is the scheme of capture file locations in a bucket.
	URLScheme = "s3"
	// FileExtension is appended to generated keys.
	FileExtension = ".orbit"
	// localTempPrefix marks downloads that are not complete yet.
	localTempPrefix = "tmp.orbit."

	contentType        = "application/octet-stream"
	contentDisposition = "attachment"
)

// ErrInvalidURL is returned for locations that are not of the form s3://bucket/key.
var ErrInvalidURL = errors.New("invalid capture location")

// S3API is the part of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput,
		optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput,
		optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput,
		optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store uploads and downloads capture files. Keys are relative to the bucket.
type Store struct {
	client S3API
	bucket string
}

// New returns a store for bucket using client.
func New(client S3API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// NewFromDefaultConfig returns a store for bucket with a client configured from the
// environment, as the AWS CLI does.
func NewFromDefaultConfig(ctx context.Context, bucket string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket), nil
}

// ParseURL splits s3://bucket/key into bucket and key.
func ParseURL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != URLScheme || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q is not an %s:// location", ErrInvalidURL, location,
			URLScheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: %q has no object key", ErrInvalidURL, location)
	}
	return u.Host, key, nil
}

// IsURL reports whether location names an object rather than a local file.
func IsURL(location string) bool {
	return strings.HasPrefix(location, URLScheme+"://")
}

// NewKey returns a fresh key below prefix for a capture file.
func NewKey(prefix string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + uuid.NewString() + FileExtension
}

// URL returns the location of key in the bucket of the store.
func (store *Store) URL(key string) string {
	return fmt.Sprintf("%s://%s/%s", URLScheme, store.bucket, key)
}

// Upload stores the local file at key. The object carries the SHA256 of the content so the
// bucket rejects corrupted uploads.
func (store *Store) Upload(ctx context.Context, key, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return fmt.Errorf("failed to hash content of %q: %v", localPath, err)
	}
	contentSHA256 := base64.StdEncoding.EncodeToString(hasher.Sum(nil))

	if _, err = file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to set position in file %q: %v", localPath, err)
	}

	_, err = store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(store.bucket),
		Key:                aws.String(key),
		Body:               file,
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(contentDisposition),
		ChecksumSHA256:     aws.String(contentSHA256),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	log.Infof("Uploaded %s to %s", localPath, store.URL(key))
	return nil
}

// Open returns the content of the object at key.
func (store *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", store.URL(key), err)
	}
	return out.Body, nil
}

// Download writes the object at key to localPath. The file only appears once it was
// received completely.
func (store *Store) Download(ctx context.Context, key, localPath string) error {
	body, err := store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	file, err := os.CreateTemp(filepath.Dir(localPath), localTempPrefix)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	if _, err = io.Copy(file, body); err != nil {
		_ = os.Remove(file.Name())
		return fmt.Errorf("failed to receive file: %w", err)
	}
	if err = commitTempFile(file, localPath); err != nil {
		_ = os.Remove(file.Name())
		return err
	}
	return nil
}

// Exists reports whether an object is stored at key.
func (store *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := store.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isErrNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to query capture existence: %w", err)
	}
	return true, nil
}

// Remove deletes the object at key. Removing a missing object is not an error.
func (store *Store) Remove(ctx context.Context, key string) error {
	_, err := store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isErrNoSuchKey(err) {
		return fmt.Errorf("failed to delete %s: %w", store.URL(key), err)
	}
	return nil
}

// commitTempFile flushes temp to disk and moves it to finalPath.
func commitTempFile(temp *os.File, finalPath string) error {
	if err := unix.Fsync(int(temp.Fd())); err != nil {
		return fmt.Errorf("failed to flush file to disk: %w", err)
	}
	if err := os.Rename(temp.Name(), finalPath); err != nil {
		return fmt.Errorf("failed to move file to final location: %w", err)
	}
	return nil
}

// isErrNoSuchKey checks whether err tells that the key does not exist. HeadObject reports
// a missing key as NotFound, the other calls as NoSuchKey.
func isErrNoSuchKey(err error) bool {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
