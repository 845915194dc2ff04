// Package storage keeps uploaded images (avatars, receipt photos) on local disk
// and hands back the public URL they are served from.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for uploads that are not JPEG, PNG or WebP.
var ErrUnsupportedType = errors.New("storage: unsupported image type")

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Uploader persists an image under a folder and returns its public URL.
type Uploader interface {
	Save(ctx context.Context, folder string, r io.Reader) (string, error)
}

// Local writes files below Dir. URLs are BaseURL + "/uploads/<folder>/<name>".
type Local struct {
	Dir     string
	BaseURL string
	MaxSize int64
}

// NewLocal prepares the upload directory.
func NewLocal(dir, baseURL string, maxSize int64) (*Local, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), MaxSize: maxSize}, nil
}

// Save sniffs the content type, stores the bytes under a random name and
// returns the URL.
func (l *Local) Save(ctx context.Context, folder string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.MaxSize > 0 {
		r = io.LimitReader(r, l.MaxSize+1)
	}
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	head = head[:n]
	ext, ok := extensions[http.DetectContentType(head)]
	if !ok {
		return "", ErrUnsupportedType
	}

	folder = sanitizeFolder(folder)
	dir := filepath.Join(l.Dir, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create folder: %w", err)
	}
	name := uuid.NewString() + ext
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("storage: create file: %w", err)
	}
	written, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), r))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && l.MaxSize > 0 && written > l.MaxSize {
		err = fmt.Errorf("storage: upload exceeds %d bytes", l.MaxSize)
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", err
	}
	return l.BaseURL + path.Join("/uploads", folder, name), nil
}

// Handler serves stored files under the /uploads prefix.
func (l *Local) Handler() http.Handler {
	return http.StripPrefix("/uploads/", http.FileServer(http.Dir(l.Dir)))
}

func sanitizeFolder(folder string) string {
	folder = strings.Trim(path.Clean("/"+folder), "/")
	if folder == "" || folder == "." {
		return "misc"
	}
	return folder
}
