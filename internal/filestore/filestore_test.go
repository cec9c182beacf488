package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentType(t *testing.T) {
	assert.Equal(t, "image", AttachmentType("image/jpeg", "a.jpg"))
	assert.Equal(t, "video", AttachmentType("video/mp4", "a.bin"))
	assert.Equal(t, "video", AttachmentType("", "clip.MOV"))
	assert.Equal(t, "pdf", AttachmentType("application/pdf", "a"))
	assert.Equal(t, "image", AttachmentType("", "unknown"))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	key := objectKey("Photo.JPG", now)
	assert.True(t, strings.HasPrefix(key, "grievances/2024/05/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.NotEqual(t, key, objectKey("Photo.JPG", now))
}

func TestLocalStore(t *testing.T) {
	staging := filepath.Join(t.TempDir(), "upload.jpg")
	require.NoError(t, os.WriteFile(staging, []byte("jpeg bytes"), 0o644))

	root := t.TempDir()
	l, err := NewLocal(root, "http://localhost:8080/uploads/")
	require.NoError(t, err)

	url, err := l.Store(context.Background(), models.UploadedFile{Path: staging, Filename: "upload.jpg"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://localhost:8080/uploads/grievances/"))

	key := strings.TrimPrefix(url, "http://localhost:8080/uploads/")
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestLocalStoreMissingFile(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "http://x")
	require.NoError(t, err)

	_, err = l.Store(context.Background(), models.UploadedFile{Path: "/does/not/exist"})
	assert.Error(t, err)
}
