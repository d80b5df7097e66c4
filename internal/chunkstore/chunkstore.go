// Package chunkstore implements the content-addressed, deduplicating chunk
// repository described in the backup engine's design: files are decomposed
// into fixed-size windows, each window is hashed and stored under a
// hash-derived path, and identical bytes are stored at most once.
//
// The locking and store/retrieve discipline ports
// internal/storage/filesystem/storage.go's shardedLock and
// write-temp-then-rename idiom from blobs to chunks.
package chunkstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"lukechampine.com/blake3"

	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/metrics"
)

const (
	// DefaultChunkSize is the fixed window size used by ChunkFile (64 KiB).
	DefaultChunkSize = 64 * 1024

	// shardCount is the number of lock shards: one per first hash byte.
	shardCount = 256

	// fanOutDirCount is the number of precreated fan-out directories.
	fanOutDirCount = 256
)

// shardedLock provides fine-grained locking keyed on the first byte of a
// content hash, so concurrent operations on chunks whose hashes start with
// different bytes never contend.
type shardedLock struct {
	locks [shardCount]sync.RWMutex
}

func (sl *shardedLock) shardIndex(hash string) int {
	if len(hash) < 2 {
		return 0
	}
	b, err := hex.DecodeString(hash[:2])
	if err != nil || len(b) == 0 {
		return 0
	}
	return int(b[0])
}

func (sl *shardedLock) Lock(hash string)    { sl.locks[sl.shardIndex(hash)].Lock() }
func (sl *shardedLock) Unlock(hash string)  { sl.locks[sl.shardIndex(hash)].Unlock() }
func (sl *shardedLock) RLock(hash string)   { sl.locks[sl.shardIndex(hash)].RLock() }
func (sl *shardedLock) RUnlock(hash string) { sl.locks[sl.shardIndex(hash)].RUnlock() }

// PresenceCache is the pluggable "does this hash already exist" check.
// The default implementation (memoryPresence) is a plain guarded set; an
// optional durable implementation is provided by chunkstore/index.go.
type PresenceCache interface {
	Has(hash string) bool
	Mark(hash string, size int64)
	Close() error
}

// memoryPresence is the baseline in-memory presence cache (spec: "an
// in-memory presence cache ... MAY be maintained to skip redundant stat
// calls").
type memoryPresence struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

func newMemoryPresence() *memoryPresence {
	return &memoryPresence{seen: make(map[string]struct{})}
}

func (m *memoryPresence) Has(hash string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[hash]
	return ok
}

func (m *memoryPresence) Mark(hash string, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[hash] = struct{}{}
}

func (m *memoryPresence) Close() error { return nil }

// Store is a content-addressed, deduplicating chunk repository rooted at
// <backup_root>/chunks/.
type Store struct {
	chunksDir string
	tempDir   string
	chunkSize int
	shards    shardedLock
	tempMu    sync.Mutex
	presence  PresenceCache
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Options configures a Store.
type Options struct {
	// ChunkSize overrides DefaultChunkSize; must stay constant for the
	// lifetime of a snapshot per spec §4.1.
	ChunkSize int

	// Presence overrides the default in-memory presence cache (e.g. with
	// the sqlite-backed durable index from index.go).
	Presence PresenceCache

	// Metrics records chunk store operation counts/durations/bytes (spec
	// §6). Nil disables instrumentation.
	Metrics *metrics.Metrics

	Logger zerolog.Logger
}

// ErrChunkMissing indicates a retrieval of a hash with no backing file.
var ErrChunkMissing = fmt.Errorf("chunkstore: chunk missing")

// New creates a chunk store rooted at backupRoot, precreating the 256
// two-hex-character fan-out directories under chunks/ (spec §4.1
// Initialization).
func New(backupRoot string, opts Options) (*Store, error) {
	chunksDir := filepath.Join(backupRoot, "chunks")
	tempDir := filepath.Join(backupRoot, ".chunk-tmp")

	if err := os.MkdirAll(chunksDir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create chunks dir: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create temp dir: %w", err)
	}
	for i := 0; i < fanOutDirCount; i++ {
		prefix := hex.EncodeToString([]byte{byte(i)})
		if err := os.MkdirAll(filepath.Join(chunksDir, prefix), 0o755); err != nil {
			return nil, fmt.Errorf("chunkstore: create fan-out dir %s: %w", prefix, err)
		}
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	presence := opts.Presence
	if presence == nil {
		presence = newMemoryPresence()
	}

	return &Store{
		chunksDir: chunksDir,
		tempDir:   tempDir,
		chunkSize: chunkSize,
		presence:  presence,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("component", "chunkstore").Logger(),
	}, nil
}

// recordOp reports a chunk store operation if instrumentation is enabled.
func (s *Store) recordOp(operation, status string, start time.Time, bytes int64) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordChunkOperation(operation, status, time.Since(start).Seconds(), bytes)
}

// Close releases any resources held by the store's presence cache.
func (s *Store) Close() error {
	return s.presence.Close()
}

// ChunkSize returns the fixed window size this store chunks files into.
func (s *Store) ChunkSize() int {
	return s.chunkSize
}

// locator returns the on-disk path for a chunk hash.
func (s *Store) locator(hash string) string {
	return domain.ComputeChunkLocator(s.chunksDir, hash)
}

// ChunkFile streams path through fixed CHUNK_SIZE windows, storing each
// non-empty window and returning the ordered descriptor sequence. Reading is
// streaming: memory use is bounded by chunkSize regardless of file size.
func (s *Store) ChunkFile(ctx context.Context, path string) ([]domain.ChunkDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: open %s: %w", path, err)
	}
	defer f.Close()

	var chunks []domain.ChunkDescriptor
	buf := make([]byte, s.chunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := io.ReadFull(f, buf)
		if n > 0 {
			desc, putErr := s.Put(ctx, buf[:n])
			if putErr != nil {
				return nil, putErr
			}
			chunks = append(chunks, desc)
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("chunkstore: read %s: %w", path, err)
		}
	}

	return chunks, nil
}

// ChunkFileClassified behaves like ChunkFile but additionally reports, for
// each returned chunk, whether that call introduced it for the first time —
// the per-chunk new/existing classification plan and run fold into the
// snapshot's deduplication accounting (spec §4.4 step 3/3b).
func (s *Store) ChunkFileClassified(ctx context.Context, path string) ([]domain.ChunkDescriptor, []bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("chunkstore: open %s: %w", path, err)
	}
	defer f.Close()

	var chunks []domain.ChunkDescriptor
	var isNew []bool
	buf := make([]byte, s.chunkSize)

	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		n, err := io.ReadFull(f, buf)
		if n > 0 {
			desc, newly, putErr := s.PutClassified(ctx, buf[:n])
			if putErr != nil {
				return nil, nil, putErr
			}
			chunks = append(chunks, desc)
			isNew = append(isNew, newly)
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("chunkstore: read %s: %w", path, err)
		}
	}

	return chunks, isNew, nil
}

// Put stores bytes, returning a descriptor. Identical bytes always yield the
// same hash and storage locator, and the backing file is written at most
// once (content addressability, spec §8).
func (s *Store) Put(ctx context.Context, data []byte) (domain.ChunkDescriptor, error) {
	desc, _, err := s.PutClassified(ctx, data)
	return desc, err
}

// PutClassified stores bytes like Put, additionally reporting whether this
// call introduced the chunk for the first time. plan and run use this to
// classify each chunk as "new" or "existing" for the deduplication
// accounting (spec §4.4).
func (s *Store) PutClassified(ctx context.Context, data []byte) (domain.ChunkDescriptor, bool, error) {
	start := time.Now()
	sum := blake3.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	locator := s.locator(hash)
	desc := domain.ChunkDescriptor{Hash: hash, Size: int64(len(data)), StorageLocator: locator}

	if s.presence.Has(hash) {
		s.recordOp("put", "deduplicated", start, int64(len(data)))
		return desc, false, nil
	}

	if _, err := os.Stat(locator); err == nil {
		s.presence.Mark(hash, int64(len(data)))
		s.recordOp("put", "deduplicated", start, int64(len(data)))
		return desc, false, nil
	}

	s.shards.Lock(hash)
	defer s.shards.Unlock(hash)

	// Re-check under the shard lock: another writer may have raced us here.
	if _, err := os.Stat(locator); err == nil {
		s.presence.Mark(hash, int64(len(data)))
		s.recordOp("put", "deduplicated", start, int64(len(data)))
		return desc, false, nil
	}

	s.tempMu.Lock()
	tmp, err := os.CreateTemp(s.tempDir, "chunk-*")
	s.tempMu.Unlock()
	if err != nil {
		s.recordOp("put", "error", start, 0)
		return domain.ChunkDescriptor{}, false, fmt.Errorf("chunkstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		s.recordOp("put", "error", start, 0)
		return domain.ChunkDescriptor{}, false, fmt.Errorf("chunkstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.recordOp("put", "error", start, 0)
		return domain.ChunkDescriptor{}, false, fmt.Errorf("chunkstore: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, locator); err != nil {
		// Another writer may have created it between our stat and our
		// rename; idempotent creation means that's success, not failure.
		if _, statErr := os.Stat(locator); statErr == nil {
			_ = os.Remove(tmpPath)
			success = true
			s.presence.Mark(hash, int64(len(data)))
			s.recordOp("put", "deduplicated", start, int64(len(data)))
			return desc, false, nil
		}
		s.recordOp("put", "error", start, 0)
		return domain.ChunkDescriptor{}, false, fmt.Errorf("chunkstore: rename chunk into place: %w", err)
	}

	success = true
	s.presence.Mark(hash, int64(len(data)))
	if s.metrics != nil {
		s.metrics.RecordChunkStored(int64(len(data)))
	}

	s.logger.Debug().Str("hash", hash).Int("size", len(data)).Msg("chunk stored")

	s.recordOp("put", "stored", start, int64(len(data)))
	return desc, true, nil
}

// Get returns a reader for the chunk's full contents.
func (s *Store) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	start := time.Now()
	s.shards.RLock(hash)
	defer s.shards.RUnlock(hash)

	locator := s.locator(hash)
	info, statErr := os.Stat(locator)
	f, err := os.Open(locator)
	if err != nil {
		if os.IsNotExist(err) {
			s.recordOp("get", "missing", start, 0)
			return nil, ErrChunkMissing
		}
		s.recordOp("get", "error", start, 0)
		return nil, fmt.Errorf("chunkstore: open chunk %s: %w", hash, err)
	}
	var size int64
	if statErr == nil {
		size = info.Size()
	}
	s.recordOp("get", "hit", start, size)
	return f, nil
}

// Exists reports whether hash is present, without reading its contents.
func (s *Store) Exists(hash string) bool {
	if s.presence.Has(hash) {
		return true
	}
	s.shards.RLock(hash)
	defer s.shards.RUnlock(hash)
	_, err := os.Stat(s.locator(hash))
	return err == nil
}

// GetSize returns the on-disk size of a stored chunk.
func (s *Store) GetSize(hash string) (int64, error) {
	s.shards.RLock(hash)
	defer s.shards.RUnlock(hash)
	info, err := os.Stat(s.locator(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrChunkMissing
		}
		return 0, fmt.Errorf("chunkstore: stat chunk %s: %w", hash, err)
	}
	return info.Size(), nil
}
