// Package filestore turns locally staged evidence files into durable public URLs.
package filestore

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/google/uuid"
)

// Backend stores one uploaded file and returns its public URL
type Backend interface {
	Store(ctx context.Context, f models.UploadedFile) (string, error)
}

// AttachmentType maps a content type or file extension to image, video or pdf
func AttachmentType(contentType, filename string) string {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case strings.HasPrefix(ct, "video/"), ext == ".mp4", ext == ".mov", ext == ".webm":
		return "video"
	case ct == "application/pdf", ext == ".pdf":
		return "pdf"
	default:
		return "image"
	}
}

// objectKey names a stored file: grievances/2024/05/<uuid>.jpg
func objectKey(filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return "grievances/" + now.UTC().Format("2006/01") + "/" + uuid.NewString() + ext
}
