package catalog

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// saveUploads copies uploaded images into dir under fresh names and returns
// their paths in upload order. The files outlive the request so a pending
// product can still upload them later.
func saveUploads(dir string, files []*multipart.FileHeader, log *logrus.Entry) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := saveUpload(dir, fh)
		if err != nil {
			removeUploads(paths, log)
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload %q: %w", fh.Filename, err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, "picked_"+uuid.NewString()+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return path, nil
}

// removeUploads deletes images saved for a product that was not stored.
func removeUploads(paths []string, log *logrus.Entry) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("path", path).Warn("failed to remove uploaded image")
		}
	}
}
