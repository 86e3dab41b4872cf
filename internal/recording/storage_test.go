package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNameIsDeterministic(t *testing.T) {
	t.Parallel()

	storage, err := NewStorage(t.TempDir(), "mp4")
	require.NoError(t, err)

	start := time.Date(2026, 8, 29, 14, 30, 5, 0, time.UTC)
	name := storage.FileName("table_1", 42, start)
	assert.Equal(t, "table_1_hand42_20260829_143005.mp4", name)
	assert.Equal(t, name, storage.FileName("table_1", 42, start))

	path := storage.FilePath("table_1", 42, start)
	assert.Equal(t, filepath.Join(storage.outputPath, name), path)
}

func TestListAndStats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storage, err := NewStorage(dir, "mp4")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp4"), make([]byte, 50), 0o644))
	// Non-clip files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	clips, err := storage.List()
	require.NoError(t, err)
	assert.Len(t, clips, 2)

	stats, err := storage.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ClipCount)
	assert.Equal(t, int64(150), stats.TotalBytes)
	assert.False(t, stats.OldestClip.IsZero())
}

func TestCleanupRemovesExpiredClips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	storage, err := NewStorage(dir, "mp4")
	require.NoError(t, err)

	oldClip := filepath.Join(dir, "old.mp4")
	newClip := filepath.Join(dir, "new.mp4")
	require.NoError(t, os.WriteFile(oldClip, []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(newClip, []byte("new"), 0o644))

	past := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(oldClip, past, past))

	// Dry run counts the expired clip without deleting it.
	removed, err := storage.Cleanup(30, true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(oldClip)
	assert.NoError(t, err)

	removed, err = storage.Cleanup(30, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(oldClip)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newClip)
	assert.NoError(t, err)

	// Retention disabled removes nothing.
	removed, err = storage.Cleanup(0, false)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestNewStorageCreatesOutputDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "clips", "nested")
	_, err := NewStorage(dir, ".mp4")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
