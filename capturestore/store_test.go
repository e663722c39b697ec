// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturestore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit-profiler/orbit/testutils"
)

func TestParseURL(t *testing.T) {
	tests := map[string]struct {
		location string
		bucket   string
		key      string
		fail     bool
	}{
		"object": {
			location: "s3://captures/2024/a.orbit",
			bucket:   "captures",
			key:      "2024/a.orbit",
		},
		"local path":   {location: "/tmp/a.orbit", fail: true},
		"no key":       {location: "s3://captures/", fail: true},
		"prefix only":  {location: "s3://captures/2024/", fail: true},
		"other scheme": {location: "gs://captures/a.orbit", fail: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			bucket, key, err := ParseURL(tc.location)
			if tc.fail {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
			assert.True(t, IsURL(tc.location))
		})
	}
}

func TestNewKey(t *testing.T) {
	key := NewKey("team")
	assert.True(t, strings.HasPrefix(key, "team/"))
	assert.True(t, strings.HasSuffix(key, FileExtension))
	assert.NotEqual(t, key, NewKey("team"))
	assert.False(t, strings.HasPrefix(NewKey(""), "/"))
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	client := testutils.NewFakeS3("captures")
	store := New(client, "captures")
	dir := t.TempDir()

	content := bytes.Repeat([]byte("orbit capture "), 1000)
	localPath := filepath.Join(dir, "in.orbit")
	require.NoError(t, os.WriteFile(localPath, content, 0o600))

	exists, err := store.Exists(ctx, "a.orbit")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Upload(ctx, "a.orbit", localPath))
	exists, err = store.Exists(ctx, "a.orbit")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "s3://captures/a.orbit", store.URL("a.orbit"))

	outPath := filepath.Join(dir, "out.orbit")
	require.NoError(t, store.Download(ctx, "a.orbit", outPath))
	downloaded, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, content, downloaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary file may remain")

	require.NoError(t, store.Remove(ctx, "a.orbit"))
	require.NoError(t, store.Remove(ctx, "a.orbit"))
	exists, err = store.Exists(ctx, "a.orbit")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownloadMissing(t *testing.T) {
	store := New(testutils.NewFakeS3("captures"), "captures")
	outPath := filepath.Join(t.TempDir(), "out.orbit")

	err := store.Download(context.Background(), "missing.orbit", outPath)
	var noSuchKey *s3types.NoSuchKey
	require.ErrorAs(t, err, &noSuchKey)
	assert.NoFileExists(t, outPath)
}

func TestUploadMissingFile(t *testing.T) {
	store := New(testutils.NewFakeS3("captures"), "captures")
	err := store.Upload(context.Background(), "a.orbit", filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrongBucket(t *testing.T) {
	store := New(testutils.NewFakeS3("captures"), "other")
	_, err := store.Exists(context.Background(), "a.orbit")
	require.Error(t, err)
}
