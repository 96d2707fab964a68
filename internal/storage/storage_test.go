package storage

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"render.mp4", "video/mp4"},
		{"RENDER.MP4", "video/mp4"},
		{"render.m4v", "video/mp4"},
		{"render.mov", "video/quicktime"},
		{"render.mkv", "video/x-matroska"},
		{"render.webm", "video/webm"},
		{"mix.wav", "audio/wav"},
		{"project.json", "application/json"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := getContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("getContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	got := ObjectName("job-1", "/tmp/out/final cut.mp4")
	if got != "exports/job-1/final cut.mp4" {
		t.Errorf("ObjectName = %q", got)
	}
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Endpoint: "http://bad endpoint", BucketName: "exports"}, nil)
	if err == nil {
		t.Error("Expected error for malformed endpoint")
	}
}

type fakeObjects struct {
	presignErr error
	uploaded   []string
	removed    []string
}

func (f *fakeObjects) FPutObject(_ context.Context, _, objectName, _ string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.uploaded = append(f.uploaded, objectName)
	return minio.UploadInfo{Key: objectName}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _, objectName string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, objectName)
	return nil
}

func (f *fakeObjects) PresignedGetObject(_ context.Context, bucket, objectName string, _ time.Duration, _ url.Values) (*url.URL, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &url.URL{Scheme: "https", Host: "objects.local", Path: "/" + bucket + "/" + objectName}, nil
}

func TestPublish(t *testing.T) {
	file := filepath.Join(t.TempDir(), "edit.mp4")
	require.NoError(t, os.WriteFile(file, []byte("mp4"), 0o644))
	name := ObjectName("job-1", file)

	t.Run("returns a link", func(t *testing.T) {
		objects := &fakeObjects{}
		s := &Storage{client: objects, bucketName: "exports", logger: logging.NewNopLogger()}

		link, err := s.Publish(context.Background(), name, file)
		require.NoError(t, err)
		assert.Equal(t, "https://objects.local/exports/exports/job-1/edit.mp4", link)
		assert.Equal(t, []string{name}, objects.uploaded)
		assert.Empty(t, objects.removed)
	})

	t.Run("removes the object when no link can be made", func(t *testing.T) {
		objects := &fakeObjects{presignErr: errors.New("signature failed")}
		s := &Storage{client: objects, bucketName: "exports", logger: logging.NewNopLogger()}

		_, err := s.Publish(context.Background(), name, file)
		assert.Error(t, err)
		assert.Equal(t, []string{name}, objects.removed)
	})
}
