// Package fingerprint derives duplicate evidence from uploaded images:
// a whole-file SHA-256 digest and the embedded EXIF capture time.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// HashFile returns the hex SHA-256 digest of the file at path
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader returns the hex SHA-256 digest of everything read from r
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExtractCaptureTime reads the EXIF capture timestamp (DateTimeOriginal, then DateTime).
// Files without metadata, unreadable files and non-images all return ok=false.
func ExtractCaptureTime(path string) (t time.Time, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}
	t, err = x.DateTime()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// IsStale reports whether an image captured at captured is older than maxAge at submittedAt
func IsStale(captured, submittedAt time.Time, maxAge time.Duration) bool {
	if captured.IsZero() || maxAge <= 0 {
		return false
	}
	return submittedAt.Sub(captured) > maxAge
}

// SharesHash reports whether a and b have at least one digest in common
func SharesHash(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, h := range a {
		seen[h] = struct{}{}
	}
	for _, h := range b {
		if _, ok := seen[h]; ok {
			return true
		}
	}
	return false
}
