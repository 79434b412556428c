package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bagoessprasetyo/property-management-sub001/internal/backup"
	"github.com/bagoessprasetyo/property-management-sub001/internal/gateway"
	"github.com/bagoessprasetyo/property-management-sub001/internal/ledger"
	"github.com/bagoessprasetyo/property-management-sub001/internal/storage"
)

type testEnv struct {
	dir        string
	configPath string
	storeDir   string
}

func setupEnv(t *testing.T) testEnv {
	t.Helper()
	return setupEnvWith(t, false)
}

func setupEnvWith(t *testing.T, compress bool) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "pms.yaml"),
		storeDir:   filepath.Join(dir, "snapshots"),
	}
	dbPath := filepath.Join(dir, "pms.db")

	cfg := fmt.Sprintf(`gateway:
  driver: sqlite3
  dsn: %s
ledger:
  driver: sqlite
  path: %s
storage:
  type: local
  dir: %s
  compress: %t
api:
  enabled: false
scheduler:
  enabled: false
logging:
  level: error
`, dbPath, filepath.Join(dir, "history.db"), env.storeDir, compress)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))

	gw, err := gateway.OpenSQL(zaptest.NewLogger(t), gateway.SQLConfig{Driver: "sqlite3", DSN: dbPath})
	require.NoError(t, err)
	defer gw.Close()

	ctx := context.Background()
	data := map[string][]gateway.Record{
		"properties":   {{"id": "p1", "name": "Seaside Inn"}, {"id": "p2", "name": "Hill Lodge"}},
		"rooms":        {{"id": "r1", "property_id": "p1"}, {"id": "r2", "property_id": "p2"}},
		"guests":       {{"id": "g1", "name": "Ana"}},
		"reservations": {{"id": "res1", "property_id": "p1", "room_id": "r1", "guest_id": "g1"}},
		"payments":     {{"id": "pay1", "reservation_id": "res1", "amount": 120}},
	}
	for name, records := range data {
		require.NoError(t, gw.Upsert(ctx, name, records))
	}
	return env
}

func (e testEnv) run(args ...string) (string, error) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--config", e.configPath))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e testEnv) history(t *testing.T) []ledger.Entry {
	t.Helper()
	out, err := e.run("history", "list", "--format", "json")
	require.NoError(t, err)
	var entries []ledger.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	return entries
}

func TestSnapshotValidateRestore(t *testing.T) {
	env := setupEnv(t)
	file := filepath.Join(env.dir, "out", "all.json")

	out, err := env.run("snapshot", "-o", file, "--store")
	require.NoError(t, err)
	assert.Contains(t, out, "Snapshot written to "+file)
	assert.Contains(t, out, "on local")

	stored, err := os.ReadDir(env.storeDir)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	out, err = env.run("validate", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Valid:    yes")
	assert.Contains(t, out, "Records:  7")

	entries := env.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, backup.ReasonManual, entries[0].Reason)
	assert.Equal(t, 7, entries[0].RecordCount)

	out, err = env.run("restore", file, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:      dry run")
	assert.Len(t, env.history(t), 1, "dry run takes no safety snapshot")

	out, err = env.run("restore", file, "--store-safety")
	require.NoError(t, err)
	assert.Contains(t, out, "Success:   yes")
	assert.Contains(t, out, "Safety snapshot stored as pre_restore_")

	entries = env.history(t)
	require.Len(t, entries, 2)
	reasons := []string{entries[0].Reason, entries[1].Reason}
	assert.ElementsMatch(t, []string{backup.ReasonManual, backup.ReasonPreRestore}, reasons)

	stored, err = os.ReadDir(env.storeDir)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestCompressedStorageArtifacts(t *testing.T) {
	env := setupEnvWith(t, true)

	out, err := env.run("snapshot", "-o", filepath.Join(env.dir, "all.json"), "--store")
	require.NoError(t, err)
	assert.Contains(t, out, "on local")

	stored, err := os.ReadDir(env.storeDir)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	file := stored[0].Name()
	require.True(t, strings.HasSuffix(file, ".json.gz"), file)
	name := strings.TrimSuffix(file, ".gz")

	out, err = env.run("validate", name, "--from-storage")
	require.NoError(t, err)
	assert.Contains(t, out, "Valid:    yes")
	assert.Contains(t, out, "Records:  7")

	out, err = env.run("validate", filepath.Join(env.storeDir, file))
	require.NoError(t, err)
	assert.Contains(t, out, "Valid:    yes")

	out, err = env.run("restore", filepath.Join(env.storeDir, file), "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:      dry run")
	assert.Contains(t, out, "Success:   yes")

	out, err = env.run("restore", name, "--from-storage", "--store-safety")
	require.NoError(t, err)
	assert.Contains(t, out, "Success:   yes")
	assert.Contains(t, out, "Safety snapshot stored as pre_restore_")

	_, err = env.run("validate", "missing.json", "--from-storage")
	assert.ErrorContains(t, err, "failed to retrieve missing.json")
}

func TestValidateRejectsTamperedSnapshot(t *testing.T) {
	env := setupEnv(t)
	file := filepath.Join(env.dir, "all.json")

	_, err := env.run("snapshot", "-o", file)
	require.NoError(t, err)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(data), "Seaside Inn")
	require.NoError(t, os.WriteFile(file, []byte(strings.Replace(string(data), "Seaside Inn", "Seaside Inc", 1)), 0o600))

	out, err := env.run("validate", file)
	assert.ErrorIs(t, err, errSnapshotInvalid)
	assert.Contains(t, out, "Valid:    no")

	_, err = env.run("restore", file)
	assert.ErrorIs(t, err, backup.ErrValidationFailed)
}

func TestScopedSnapshotToStdout(t *testing.T) {
	env := setupEnv(t)

	out, err := env.run("snapshot", "--scope", "p2", "-o", "-")
	require.NoError(t, err)

	snap, err := backup.ParseSnapshot([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "p2", snap.Metadata.Scope)
	assert.Len(t, snap.Collections["properties"], 1)
	assert.Len(t, snap.Collections["rooms"], 1)

	entries := env.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "p2", entries[0].Scope)
}

func TestHistoryCleanup(t *testing.T) {
	env := setupEnv(t)

	out, err := env.run("history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshots recorded.")

	_, err = env.run("snapshot", "-o", filepath.Join(env.dir, "all.json"))
	require.NoError(t, err)

	out, err = env.run("history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "REASON")
	assert.Contains(t, out, "manual")

	out, err = env.run("history", "cleanup", "--max-age-days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 entries older than 30 days")
	assert.Len(t, env.history(t), 1)
}

func TestCommandErrors(t *testing.T) {
	env := setupEnv(t)

	_, err := env.run("history", "list", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")

	_, err = env.run("restore", filepath.Join(env.dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read")

	_, err = env.run("restore", "x.json", "--policy", "yolo")
	assert.ErrorIs(t, err, backup.ErrInvalidOptions)

	garbage := filepath.Join(env.dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o600))
	_, err = env.run("validate", garbage)
	assert.ErrorIs(t, err, backup.ErrParseFailed)
}

func TestBadConfigIsReported(t *testing.T) {
	env := setupEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("gateway:\n  driver: oracle\n"), 0o600))

	_, err := env.run("history", "list")
	assert.ErrorContains(t, err, "failed to load configuration")
}

func TestVersion(t *testing.T) {
	env := setupEnv(t)
	out, err := env.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "pmsbackup "+Version)
	assert.Contains(t, out, "Go Version:")
}

func TestStoreSinkNamesScheduledArtifacts(t *testing.T) {
	env := setupEnv(t)
	cfg, logger, err := (&rootOptions{configPath: env.configPath}).load()
	require.NoError(t, err)

	e, err := openEnvironment(cfg, logger)
	require.NoError(t, err)
	defer e.Close()

	target, err := storage.New(context.Background(), logger, cfg.Storage)
	require.NoError(t, err)

	snap, err := e.manager.CreateSnapshot(context.Background(), "", backup.ReasonScheduled)
	require.NoError(t, err)
	require.NoError(t, storeSink(e, target)(context.Background(), snap))

	artifacts, err := target.List(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	want := "pms_backup_all_" + snap.CreatedAt.UTC().Format("2006-01-02_150405") + ".json"
	assert.Equal(t, want, artifacts[0].Name)
}
