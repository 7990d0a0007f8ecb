// Package storage keeps uploaded images. Blobs are content addressed: the
// reference of a blob is the SHA-256 of its bytes plus its extension, so
// identical uploads are stored once.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

const MaxFileSize = 5 * 1024 * 1024 // 5MBs

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed size of 5MB")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrInvalidRef      = errors.New("invalid blob reference")
)

type BlobStore interface {
	// Save stores data and returns its reference. name only contributes
	// its extension.
	Save(ctx context.Context, name string, data []byte) (string, error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// validImageTypes maps a detected content type to the extension used when
// the upload name carries none.
var validImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

var validExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var refPattern = regexp.MustCompile(`^[0-9a-f]{64}\.[a-z0-9]{1,5}$`)

// ContentRef validates an upload and returns the reference it is stored
// under. A name without an extension, or no name at all, takes the
// extension of the detected content type.
func ContentRef(name string, data []byte) (string, error) {
	if len(data) > MaxFileSize {
		return "", ErrFileTooLarge
	}

	contentType := http.DetectContentType(data)
	detected, ok := validImageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: content %q", ErrUnsupportedType, contentType)
	}

	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case ext == "":
		ext = detected
	case !validExtensions[ext]:
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedType, ext)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + ext, nil
}

func validateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
