package engine

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vconfig "github.com/ashgrove/vaultcore/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func sha256Of(t *testing.T, path string) [32]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(data)
}

// Scenario 1: basic backup + restore.
func TestRun_BasicBackupAndRestore(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "Hello, World!")
	writeFile(t, src, "b.txt", "This is a test file")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(e.backupRoot, "chunks"))
	assert.FileExists(t, filepath.Join(e.backupRoot, "manifests", "latest.json"))

	snapshots, err := e.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	assert.Equal(t, int64(2), snap.TotalFiles)
	assert.Equal(t, int64(32), snap.TotalSize)

	dest := filepath.Join(t.TempDir(), "a")
	require.NoError(t, e.RestoreFile(ctx, snap.ID, "a.txt", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(got))
}

// Scenario 2: chunk-level deduplication.
func TestRun_ChunkLevelDeduplication(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "x.txt", "Duplicate content")
	writeFile(t, src, "y.txt", "Duplicate content")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	x := snap.Files["x.txt"]
	y := snap.Files["y.txt"]
	require.Len(t, x.Chunks, 1)
	require.Len(t, y.Chunks, 1)
	assert.Equal(t, x.Chunks[0].Hash, y.Chunks[0].Hash)
	assert.Equal(t, x.Chunks[0].StorageLocator, y.Chunks[0].StorageLocator)

	assert.FileExists(t, x.Chunks[0].StorageLocator)
}

// Scenario 3: snapshot-level re-backup.
func TestRun_ReBackupReportsNoNewUniqueChunks(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "x.txt", "Duplicate content")
	writeFile(t, src, "y.txt", "Duplicate content")

	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Run(ctx, src)
	require.NoError(t, err)

	before, err := countChunkFiles(t, e.backupRoot)
	require.NoError(t, err)

	snap2, err := e.Run(ctx, src)
	require.NoError(t, err)

	after, err := countChunkFiles(t, e.backupRoot)
	require.NoError(t, err)

	snapshots, err := e.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)

	assert.Equal(t, int64(0), snap2.UniqueChunks)
	assert.Equal(t, before, after)
}

func countChunkFiles(t *testing.T, backupRoot string) (int, error) {
	t.Helper()
	n := 0
	err := filepath.Walk(filepath.Join(backupRoot, "chunks"), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}

// Scenario 4: large-file chunking across multiple chunk-size boundaries.
func TestRun_LargeFileChunkingAndRestore(t *testing.T) {
	src := t.TempDir()
	chunkSize := 128
	data := make([]byte, chunkSize*3+100)
	for i := range data {
		data[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), data, 0o644))

	e, err := New(t.TempDir(), Options{Config: vconfig.Engine{ChunkSize: chunkSize, MaxWorkers: 4, BroadcasterQueueDepth: 256}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx := context.Background()
	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	entry := snap.Files["big.bin"]
	require.Len(t, entry.Chunks, 4)
	sizes := make([]int64, len(entry.Chunks))
	for i, c := range entry.Chunks {
		sizes[i] = c.Size
	}
	assert.Equal(t, []int64{128, 128, 128, 100}, sizes)

	dest := filepath.Join(t.TempDir(), "restored.bin")
	require.NoError(t, e.RestoreFile(ctx, snap.ID, "big.bin", dest))
	assert.Equal(t, sha256Of(t, filepath.Join(src, "big.bin")), sha256Of(t, dest))

	snap2, err := e.Run(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, snap.Files["big.bin"].FileHash, snap2.Files["big.bin"].FileHash)
}

// Scenario 5: empty file.
func TestRun_EmptyFileRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "empty.txt", "")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	entry := snap.Files["empty.txt"]
	assert.Empty(t, entry.Chunks)

	dest := filepath.Join(t.TempDir(), "empty-restored.txt")
	require.NoError(t, e.RestoreFile(ctx, snap.ID, "empty.txt", dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

// Scenario 6: missing file at restore.
func TestRestoreFile_MissingFileInSnapshot(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "content")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "nope")
	err = e.RestoreFile(ctx, snap.ID, "does/not/exist", dest)
	assert.ErrorIs(t, err, ErrFileNotInSnapshot)
	assert.NoFileExists(t, dest)
}

func TestPlan_DeduplicationAccounting(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "same bytes")
	writeFile(t, src, "b.txt", "same bytes")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Plan(ctx, src)
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.UniqueChunks)
	assert.Equal(t, int64(1), snap.Metadata["existing_chunks"])
	assert.Equal(t, int64(1), snap.Metadata["new_chunks"])
}

func TestScan_DoesNotWriteManifestOrChunks(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "a.txt", "hello")

	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Scan(ctx, src))

	snapshots, err := e.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, snapshots)

	n, err := countChunkFiles(t, e.backupRoot)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestoreSnapshot_PreservesRelativeStructure(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0o755))
	writeFile(t, src, "top.txt", "top")
	writeFile(t, filepath.Join(src, "nested"), "inner.txt", "inner")

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, e.RestoreSnapshot(ctx, snap.ID, dest))

	got, err := os.ReadFile(filepath.Join(dest, "nested", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inner", string(got))
}

func TestRestoreFile_PreservesModeAndModTime(t *testing.T) {
	src := t.TempDir()
	path := filepath.Join(src, "perm.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o640))
	modTime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, modTime, modTime))

	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.Run(ctx, src)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "perm-restored.txt")
	require.NoError(t, e.RestoreFile(ctx, snap.ID, "perm.txt", dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, modTime.Unix(), info.ModTime().Unix())

	srcInfo, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, srcInfo.Mode().Perm(), info.Mode().Perm())
}
