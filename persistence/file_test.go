package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-vault/kvstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDataDir = "testdata"

func TestMain(m *testing.M) {
	// Setup: Create testdata directory
	if err := os.MkdirAll(testDataDir, 0755); err != nil {
		panic(err)
	}

	// Run tests
	code := m.Run()

	// Teardown: Remove testdata directory
	if err := os.RemoveAll(testDataDir); err != nil {
		panic(err)
	}

	os.Exit(code)
}

func readSnapshot(t *testing.T, fs afero.Fs, path string) map[string]any {
	t.Helper()
	raw, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	data, err := kvstore.DecodeSnapshot(raw)
	require.NoError(t, err)
	return data
}

func TestFile_Paths(t *testing.T) {
	f := NewFile("/data", "settings", WithFs(afero.NewMemMapFs()))
	assert.Equal(t, filepath.Join("/data", "settings.vault"), f.PrimaryPath())
	assert.Equal(t, filepath.Join("/data", "settings.bak"), f.BackupPath())
}

func TestFile_LoadFirstRunSeedsInitial(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "first", WithFs(fs))

	initial := map[string]any{"theme": "dark"}
	data, err := f.Load(ctx, initial)
	require.NoError(t, err)
	assert.Equal(t, initial, data)
	require.NoError(t, f.Close())

	assert.Equal(t, initial, readSnapshot(t, fs, f.PrimaryPath()))
	assert.Equal(t, initial, readSnapshot(t, fs, f.BackupPath()))
}

func TestFile_LoadFirstRunWithoutInitial(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "empty", WithFs(fs))
	defer f.Close()

	data, err := f.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	raw, err := afero.ReadFile(fs, f.PrimaryPath())
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}

func TestFile_FlushRoundTripOnDisk(t *testing.T) {
	ctx := context.Background()
	testDir := filepath.Join(testDataDir, "test_round_trip")
	require.NoError(t, os.MkdirAll(testDir, 0755))
	defer os.RemoveAll(testDir)

	f := NewFile(testDir, "disk")
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)

	value := map[string]any{
		"x":       map[string]any{"nested": []any{int64(1), int64(2), int64(3)}},
		"counter": int64(0),
		"ratio":   0.25,
		"name":    "vault",
		"none":    nil,
	}
	require.NoError(t, f.Flush(ctx, value))
	require.NoError(t, f.Close())

	f2 := NewFile(testDir, "disk")
	defer f2.Close()
	data, err := f2.Load(ctx, map[string]any{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, value, data)
}

func TestFile_FlushTruncates(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "shrink", WithFs(fs))
	defer f.Close()
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)

	big := map[string]any{}
	for i := 0; i < 100; i++ {
		big[fmt.Sprintf("key-%03d", i)] = "a fairly long value to make the file grow"
	}
	require.NoError(t, f.Flush(ctx, big))
	require.NoError(t, f.Flush(ctx, map[string]any{"k": 1.0}))

	raw, err := afero.ReadFile(fs, f.PrimaryPath())
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(raw))
}

func TestFile_RecoverCorruptPrimaryFromBackup(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	good := map[string]any{"k": "last known good"}

	f := NewFile("/data", "corrupt", WithFs(fs))
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.Flush(ctx, good))
	require.NoError(t, f.Close())

	require.NoError(t, afero.WriteFile(fs, f.PrimaryPath(), []byte(`{"k": "half wri`), fileMode))

	f2 := NewFile("/data", "corrupt", WithFs(fs))
	defer f2.Close()
	data, err := f2.Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, good, data)

	// The primary has been repaired.
	assert.Equal(t, good, readSnapshot(t, fs, f2.PrimaryPath()))
}

func TestFile_RestoreTruncatedPrimaryFromBackup(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	good := map[string]any{"k": []any{"a", "b"}}

	f := NewFile("/data", "truncated", WithFs(fs))
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.Flush(ctx, good))
	require.NoError(t, f.Close())

	require.NoError(t, afero.WriteFile(fs, f.PrimaryPath(), nil, fileMode))

	f2 := NewFile("/data", "truncated", WithFs(fs))
	defer f2.Close()
	data, err := f2.Load(ctx, map[string]any{"initial": "must not win"})
	require.NoError(t, err)
	assert.Equal(t, good, data)
	assert.Equal(t, good, readSnapshot(t, fs, f2.PrimaryPath()))
}

func TestFile_CorruptBackupFallsBackToEmpty(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", dirMode))
	require.NoError(t, afero.WriteFile(fs, "/data/broken.vault", []byte("not json"), fileMode))
	require.NoError(t, afero.WriteFile(fs, "/data/broken.bak", []byte("[1,2"), fileMode))

	f := NewFile("/data", "broken", WithFs(fs))
	data, err := f.Load(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, f.Close())

	assert.Empty(t, readSnapshot(t, fs, f.PrimaryPath()))
	assert.Empty(t, readSnapshot(t, fs, f.BackupPath()))
}

func TestFile_NullPrimaryIsCorrupt(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/data", dirMode))
	require.NoError(t, afero.WriteFile(fs, "/data/null.vault", []byte("null"), fileMode))
	require.NoError(t, afero.WriteFile(fs, "/data/null.bak", []byte("\n  {\"k\":true}\n\t"), fileMode))

	f := NewFile("/data", "null", WithFs(fs))
	defer f.Close()
	data, err := f.Load(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": true}, data)
}

func TestFile_BackupTracksLatestFlush(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "generations", WithFs(fs))
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, f.Flush(ctx, map[string]any{"n": int64(i)}))
	}
	require.NoError(t, f.Close())

	assert.Equal(t, map[string]any{"n": int64(49)}, readSnapshot(t, fs, f.BackupPath()))
	exists, err := afero.Exists(fs, f.BackupPath()+".tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFile_Delete(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "delete", WithFs(fs))
	_, err := f.Load(ctx, map[string]any{"k": "v"})
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx))
	for _, p := range []string{f.PrimaryPath(), f.BackupPath()} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.False(t, exists, p)
	}

	err = f.Delete(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestFile_DeleteMissingBackup(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "half", WithFs(fs))
	_, err := f.Load(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, fs.Remove(f.BackupPath()))

	err = f.Delete(ctx)
	require.ErrorIs(t, err, kvstore.ErrNotFound)
	exists, existsErr := afero.Exists(fs, f.PrimaryPath())
	require.NoError(t, existsErr)
	assert.False(t, exists, "primary is removed even though the backup was missing")
}

func TestFile_FlushHonoursContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "cancelled", WithFs(fs))
	defer f.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Flush(ctx, map[string]any{}), context.Canceled)
}

func TestFile_NoResourceLeak(t *testing.T) {
	testDir := filepath.Join(testDataDir, "test_leak")
	require.NoError(t, os.MkdirAll(testDir, 0755))
	defer os.RemoveAll(testDir)

	// Create and close many backends to test for descriptor leaks
	for i := 0; i < 100; i++ {
		f := NewFile(testDir, "leak")
		_, err := f.Load(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, f.Flush(context.Background(), map[string]any{"i": int64(i)}))
		require.NoError(t, f.Close())
	}

	f := NewFile(testDir, "leak")
	defer f.Close()
	data, err := f.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"i": int64(99)}, data)
}

func TestFileFactoryExplicitDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	b, err := FileFactory("/explicit", WithFs(fs))("box")
	require.NoError(t, err)
	f, ok := b.(*File)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/explicit", "box.vault"), f.PrimaryPath())
}

func TestFile_Exists(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	f := NewFile("/data", "present", WithFs(fs))

	exists, err := f.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
	dirExists, err := afero.DirExists(fs, "/data")
	require.NoError(t, err)
	assert.False(t, dirExists, "Exists must not create anything")

	_, err = f.Load(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	exists, err = f.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	// A backup alone is enough for Load to recover from.
	require.NoError(t, fs.Remove(f.PrimaryPath()))
	exists, err = f.Exists()
	require.NoError(t, err)
	assert.True(t, exists)
}
