package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrArtifactTooLarge is returned when an inflated artifact exceeds its limit.
	ErrArtifactTooLarge = errors.New("artifact exceeds size limit")
	// ErrCorruptArtifact is returned for compressed data that cannot be inflated.
	ErrCorruptArtifact = errors.New("corrupt compressed artifact")
)

var gzipMagic = []byte{0x1f, 0x8b}

// ReadArtifact reads an artifact body, inflating it when it carries a gzip
// header, so stored .json.gz files and plain documents read the same way.
// limit bounds the returned size; zero means unbounded.
func ReadArtifact(r io.Reader, limit int64) ([]byte, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var src io.Reader = br
	if len(head) == len(gzipMagic) && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptArtifact, err)
		}
		defer gz.Close()
		src = gz
	}
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	data, err := io.ReadAll(src)
	if err != nil {
		if errors.Is(err, gzip.ErrChecksum) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrCorruptArtifact, err)
		}
		return nil, err
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrArtifactTooLarge, limit)
	}
	return data, nil
}
