// Package storage persists snapshot artifacts on the local filesystem or in
// an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"
)

// ErrObjectNotFound is returned when an artifact does not exist.
var ErrObjectNotFound = errors.New("artifact not found")

// ArtifactInfo describes a stored artifact.
type ArtifactInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Target stores named artifacts.
type Target interface {
	Name() string
	Store(ctx context.Context, name string, r io.Reader, size int64) error
	Retrieve(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns artifacts newest first.
	List(ctx context.Context) ([]ArtifactInfo, error)
	Delete(ctx context.Context, name string) error
}

// Config selects and configures a target.
type Config struct {
	Type     string      `yaml:"type" validate:"oneof=local minio"`
	Dir      string      `yaml:"dir"`
	Compress bool        `yaml:"compress"`
	Minio    MinioConfig `yaml:"minio"`
}

// New creates the target described by config.
func New(ctx context.Context, logger *zap.Logger, config Config) (Target, error) {
	switch config.Type {
	case "", "local":
		return NewLocalTarget(logger, config.Dir, config.Compress)
	case "minio":
		return NewMinioTarget(ctx, logger, config.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}

// Prune deletes artifacts last modified before cutoff and returns their count.
func Prune(ctx context.Context, target Target, cutoff time.Time) (int, error) {
	artifacts, err := target.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, a := range artifacts {
		if !a.ModTime.Before(cutoff) {
			continue
		}
		if err := target.Delete(ctx, a.Name); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return removed, fmt.Errorf("failed to delete %s: %w", a.Name, err)
		}
		removed++
	}
	return removed, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || path.Base(name) != name {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	for _, r := range name {
		if r == '\\' {
			return fmt.Errorf("invalid artifact name %q", name)
		}
	}
	return nil
}
