// Package staging manages the local directory that holds recordings between download and upload.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Cache is the local staging directory. Files in it are not a system of record.
type Cache struct {
	dir    string
	logger *zap.Logger
}

// New creates a cache rooted at dir (resolved to an absolute path). The directory is
// created lazily by Ensure.
func New(dir string, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve staging dir: %w", err)
	}
	return &Cache{dir: abs, logger: logger}, nil
}

// Dir returns the absolute staging directory.
func (c *Cache) Dir() string { return c.dir }

// Ensure creates the staging directory if it does not exist.
func (c *Cache) Ensure() error {
	if _, err := os.Stat(c.dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	c.logger.Info("created staging directory", zap.String("dir", c.dir))
	return nil
}

// FileName returns a collision-free name for one download attempt of a source video.
func FileName(activityID, sessionID, assetID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%d.mp4", activityID, sessionID, assetID, at.UnixNano())
}

// Path returns the absolute path of name inside the staging directory.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

// Resolve returns p unchanged when absolute, otherwise relative to the staging directory.
func (c *Cache) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Exists reports whether p resolves to a regular file.
func (c *Cache) Exists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(c.Resolve(p))
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size in bytes of the file at p.
func (c *Cache) Size(p string) (int64, error) {
	info, err := os.Stat(c.Resolve(p))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Size(), nil
}

// Remove deletes the file at p. A missing file is not an error.
func (c *Cache) Remove(p string) error {
	if p == "" {
		return nil
	}
	if err := os.Remove(c.Resolve(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	c.logger.Debug("deleted local file", zap.String("path", c.Resolve(p)))
	return nil
}
