package chunkstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(root, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_PrecreatesFanOutDirectories(t *testing.T) {
	root := t.TempDir()
	_, err := New(root, Options{})
	require.NoError(t, err)

	for i := 0; i < 256; i++ {
		entries, err := os.ReadDir(filepath.Join(root, "chunks"))
		require.NoError(t, err)
		assert.Len(t, entries, 256)
		break
	}
}

func TestPut_ContentAddressability(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("Hello, World!")
	d1, err := s.Put(ctx, data)
	require.NoError(t, err)
	d2, err := s.Put(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, d1.Hash, d2.Hash)
	assert.Equal(t, d1.StorageLocator, d2.StorageLocator)

	info, err := os.Stat(d1.StorageLocator)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), info.Size())
}

func TestPut_ConcurrentSameContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("race me")

	var wg sync.WaitGroup
	hashes := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := s.Put(ctx, data)
			require.NoError(t, err)
			hashes[i] = d.Hash
		}(i)
	}
	wg.Wait()

	for _, h := range hashes {
		assert.Equal(t, hashes[0], h)
	}
}

func TestGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := []byte("This is a test file")
	desc, err := s.Put(ctx, data)
	require.NoError(t, err)

	rc, err := s.Get(ctx, desc.Hash)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGet_MissingChunk(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "0000000000000000000000000000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrChunkMissing)
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	desc, err := s.Put(ctx, []byte("exists me"))
	require.NoError(t, err)

	assert.True(t, s.Exists(desc.Hash))
	assert.False(t, s.Exists("abcdef0000000000000000000000000000000000000000000000000000000000"))
}

func TestChunkFile_SmallFileSingleChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "small.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello, World!"), 0o644))

	chunks, err := s.ChunkFile(ctx, path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, int64(13), chunks[0].Size)
}

func TestChunkFile_EmptyFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	chunks, err := s.ChunkFile(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkFile_LargeFileExactBoundaries(t *testing.T) {
	s, err := New(t.TempDir(), Options{ChunkSize: 16})
	require.NoError(t, err)
	ctx := context.Background()

	data := bytes.Repeat([]byte{0x42}, 16*3+5)
	path := filepath.Join(t.TempDir(), "large.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	chunks, err := s.ChunkFile(ctx, path)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, []int64{16, 16, 16, 5}, []int64{chunks[0].Size, chunks[1].Size, chunks[2].Size, chunks[3].Size})
}

func TestPutClassified_NewThenExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("classify me")

	_, isNew1, err := s.PutClassified(ctx, data)
	require.NoError(t, err)
	assert.True(t, isNew1)

	_, isNew2, err := s.PutClassified(ctx, data)
	require.NoError(t, err)
	assert.False(t, isNew2)
}

func TestChunkFileClassified_DuplicateChunksWithinOneFile(t *testing.T) {
	s, err := New(t.TempDir(), Options{ChunkSize: 4})
	require.NoError(t, err)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "repeat.bin")
	require.NoError(t, os.WriteFile(path, []byte("aaaaaaaa"), 0o644)) // two identical 4-byte windows

	chunks, isNew, err := s.ChunkFileClassified(ctx, path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Len(t, isNew, 2)
	assert.True(t, isNew[0])
	assert.False(t, isNew[1])
	assert.Equal(t, chunks[0].Hash, chunks[1].Hash)
}

func TestComputeFileHash_Deterministic(t *testing.T) {
	hashes := []string{"aa", "bb", "cc"}
	h1, err := ComputeFileHash(hashes)
	require.NoError(t, err)
	h2, err := ComputeFileHash(hashes)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ComputeFileHash([]string{"cc", "bb", "aa"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestComputeFileHash_SingleChunkShortcut(t *testing.T) {
	h, err := ComputeFileHash([]string{"deadbeef"})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", h)
}

func TestComputeFileHash_Empty(t *testing.T) {
	h, err := ComputeFileHash(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, h)
}
