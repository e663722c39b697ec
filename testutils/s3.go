// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package testutils // import "github.com/orbit-profiler/orbit/testutils"

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/orbit-profiler/orbit/libpf"
)

// FakeS3 keeps the objects of a single bucket in memory. Uploads must carry a valid
// SHA-256 checksum.
type FakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func NewFakeS3(bucket string) *FakeS3 {
	return &FakeS3{
		bucket:  bucket,
		objects: map[string][]byte{},
	}
}

// Keys returns the sorted keys of all stored objects.
func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return libpf.SortedKeys(f.objects)
}

// Object returns the content stored under key.
func (f *FakeS3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[key]
	return content, ok
}

// Len returns the number of stored objects.
func (f *FakeS3) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *FakeS3) checkBucket(bucket *string) error {
	if bucket == nil || *bucket != f.bucket {
		return errors.New("no such bucket")
	}
	return nil
}

func (f *FakeS3) PutObject(_ context.Context, params *s3.PutObjectInput,
	_ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.checkBucket(params.Bucket); err != nil {
		return nil, err
	}
	content, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	if params.ChecksumSHA256 == nil ||
		*params.ChecksumSHA256 != base64.StdEncoding.EncodeToString(sum[:]) {
		return nil, errors.New("checksum mismatch")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*params.Key] = content
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) GetObject(_ context.Context, params *s3.GetObjectInput,
	_ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := f.checkBucket(params.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(content))}, nil
}

func (f *FakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput,
	_ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.checkBucket(params.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*params.Key]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *FakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput,
	_ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := f.checkBucket(params.Bucket); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *params.Key)
	return &s3.DeleteObjectOutput{}, nil
}
