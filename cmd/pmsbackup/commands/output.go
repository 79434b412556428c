package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bagoessprasetyo/property-management-sub001/internal/config"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

// readInput reads a snapshot argument: a file path, "-" for stdin or, when
// fromStorage is set, an artifact name on the configured storage target.
// Gzip-compressed artifacts are inflated.
func readInput(ctx context.Context, cfg *config.Config, logger *zap.Logger, arg string, fromStorage bool, stdin io.Reader) ([]byte, error) {
	switch {
	case fromStorage:
		target, err := storage.New(ctx, logger, cfg.Storage)
		if err != nil {
			return nil, err
		}
		rc, err := target.Retrieve(ctx, arg)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve %s from %s: %w", arg, target.Name(), err)
		}
		defer rc.Close()
		return storage.ReadArtifact(rc, 0)
	case arg == "-":
		return storage.ReadArtifact(stdin, 0)
	}

	f, err := os.Open(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	defer f.Close()
	data, err := storage.ReadArtifact(f, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return data, nil
}

func displayJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func checkFormat(format string, allowed ...string) error {
	for _, f := range allowed {
		if f == format {
			return nil
		}
	}
	return fmt.Errorf("unsupported format %q", format)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
