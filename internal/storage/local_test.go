package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocalTarget_StoreRetrieve(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			target, err := NewLocalTarget(zaptest.NewLogger(t), dir, compress)
			require.NoError(t, err)

			payload := []byte(`{"formatVersion":"2.0"}`)
			require.NoError(t, target.Store(ctx, "pms_backup_all_2026-01-02.json", bytes.NewReader(payload), int64(len(payload))))

			rc, err := target.Retrieve(ctx, "pms_backup_all_2026-01-02.json")
			require.NoError(t, err)
			defer rc.Close()

			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			artifacts, err := target.List(ctx)
			require.NoError(t, err)
			require.Len(t, artifacts, 1)
			assert.Equal(t, "pms_backup_all_2026-01-02.json", artifacts[0].Name)

			_, statErr := os.Stat(filepath.Join(dir, "pms_backup_all_2026-01-02.json.gz"))
			assert.Equal(t, compress, statErr == nil)
		})
	}
}

func TestLocalTarget_RejectsPathTraversal(t *testing.T) {
	target, err := NewLocalTarget(zaptest.NewLogger(t), t.TempDir(), false)
	require.NoError(t, err)

	err = target.Store(context.Background(), "../escape.json", strings.NewReader("x"), 1)
	assert.Error(t, err)
}

func TestLocalTarget_MissingArtifact(t *testing.T) {
	ctx := context.Background()
	target, err := NewLocalTarget(zaptest.NewLogger(t), t.TempDir(), false)
	require.NoError(t, err)

	_, err = target.Retrieve(ctx, "nope.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, target.Delete(ctx, "nope.json"), ErrObjectNotFound)
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target, err := NewLocalTarget(zaptest.NewLogger(t), dir, false)
	require.NoError(t, err)

	for _, name := range []string{"old.json", "new.json"} {
		require.NoError(t, target.Store(ctx, name, strings.NewReader("{}"), 2))
	}
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.json"), past, past))

	removed, err := Prune(ctx, target, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	artifacts, err := target.List(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "new.json", artifacts[0].Name)
}
