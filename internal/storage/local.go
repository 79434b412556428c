package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const gzipSuffix = ".gz"

// LocalTarget keeps artifacts as files in one directory, optionally gzipped.
type LocalTarget struct {
	logger   *zap.Logger
	baseDir  string
	compress bool
}

// NewLocalTarget creates baseDir if needed.
func NewLocalTarget(logger *zap.Logger, baseDir string, compress bool) (*LocalTarget, error) {
	if baseDir == "" {
		return nil, errors.New("storage directory is required")
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalTarget{
		logger:   logger.Named("local_target"),
		baseDir:  baseDir,
		compress: compress,
	}, nil
}

func (l *LocalTarget) Name() string {
	return "local"
}

// Store writes r to name, via a temporary file renamed into place.
func (l *LocalTarget) Store(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fileName := name
	if l.compress {
		fileName += gzipSuffix
	}
	filePath := filepath.Join(l.baseDir, fileName)

	tmp, err := os.CreateTemp(l.baseDir, "."+fileName+".*")
	if err != nil {
		return fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var gz *gzip.Writer
	if l.compress {
		gz = gzip.NewWriter(tmp)
		gz.Name = name
		w = gz
	}

	n, err := io.Copy(w, r)
	if err == nil && gz != nil {
		err = gz.Close()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write artifact data: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("incomplete write: wrote %d bytes, expected %d", n, size)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to finalize artifact: %w", err)
	}

	l.logger.Debug("Stored artifact", zap.String("path", filePath), zap.Int64("bytes", n))
	return nil
}

// Retrieve opens name, decompressing transparently.
func (l *LocalTarget) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f, err := os.Open(filepath.Join(l.baseDir, name)); err == nil {
		return f, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	f, err := os.Open(filepath.Join(l.baseDir, name+gzipSuffix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read compressed artifact: %w", err)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

// List returns the stored artifacts, newest first, under their logical names.
func (l *LocalTarget) List(ctx context.Context) ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []ArtifactInfo{}, nil
		}
		return nil, err
	}

	artifacts := make([]ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, ArtifactInfo{
			Name:    strings.TrimSuffix(entry.Name(), gzipSuffix),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})
	return artifacts, nil
}

// Delete removes name in either stored form.
func (l *LocalTarget) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}

	found := false
	for _, p := range []string{name, name + gzipSuffix} {
		err := os.Remove(filepath.Join(l.baseDir, p))
		switch {
		case err == nil:
			found = true
		case !errors.Is(err, fs.ErrNotExist):
			return err
		}
	}
	if !found {
		return ErrObjectNotFound
	}
	return nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	gerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return gerr
}
