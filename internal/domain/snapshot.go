// Package domain contains the core business entities for vaultcore: the
// content-addressed chunk descriptor, the per-file entry it composes into,
// and the snapshot manifest that ties a backup run together.
package domain

import (
	"path/filepath"
	"time"
)

// ChunkDescriptor is an immutable record of one stored byte window.
//
// Invariant: for any two chunks with identical bytes, Hash and
// StorageLocator are identical, and the chunk store contains at most one
// copy of the backing file.
type ChunkDescriptor struct {
	// Hash is the hex-encoded BLAKE3-256 digest of the chunk's bytes.
	Hash string `json:"hash"`

	// Size is the byte length of the chunk.
	Size int64 `json:"size"`

	// StorageLocator is the path under the backup root at which the bytes
	// reside, derived deterministically from Hash.
	StorageLocator string `json:"path"`
}

// FileEntry is one record per file (or directory) in a snapshot.
//
// Invariant: Chunks is empty iff Size == 0 or IsDir.
type FileEntry struct {
	// Path is source-root-relative, forward-slash separated, never
	// leading-slash, never containing ".." after normalization.
	Path string `json:"path"`

	// Size is the total file byte length; equals the sum of Chunks' sizes.
	Size int64 `json:"size"`

	// ModTime is the last-modified timestamp, preserved across restore.
	ModTime time.Time `json:"mod_time"`

	// Chunks is the ordered sequence whose concatenation reproduces the
	// file exactly.
	Chunks []ChunkDescriptor `json:"chunks"`

	// FileHash is the per-file integrity root (see chunkstore.ComputeFileHash).
	FileHash string `json:"file_hash"`

	// Permissions holds POSIX mode bits.
	Permissions uint32 `json:"permissions"`

	// IsDir marks a directory entry (recorded with an empty Chunks list so
	// that restore can recreate empty directories).
	IsDir bool `json:"is_dir"`
}

// Snapshot is one backup run's durable record.
//
// Invariant: once written via manifest.Manager.Save, a snapshot is immutable.
type Snapshot struct {
	// ID is a fresh, globally-unique identifier per snapshot.
	ID string `json:"id"`

	// Version is the manifest schema tag.
	Version string `json:"version"`

	// Timestamp is the snapshot creation time.
	Timestamp time.Time `json:"timestamp"`

	// SourcePath is the absolute path of the backed-up root at capture time.
	SourcePath string `json:"source_path"`

	// Files maps relative path to file entry; each path is unique.
	Files map[string]*FileEntry `json:"files"`

	// TotalSize is the sum of all file entries' Size.
	TotalSize int64 `json:"total_size"`

	// TotalFiles is len(Files).
	TotalFiles int64 `json:"total_files"`

	// UniqueChunks is the number of chunks first introduced during this run.
	UniqueChunks int64 `json:"unique_chunks"`

	// Metadata is an open map for implementation-specific counters, e.g.
	// existing/new chunk counts and the deduplication ratio.
	Metadata map[string]any `json:"metadata"`
}

// ManifestVersion is the manifest schema tag written by this implementation.
const ManifestVersion = "2.0"

// ComputeChunkLocator returns the fan-out storage path for a chunk hash,
// mirroring the teacher's 2-level blob sharding (ported from
// domain.ComputeStoragePath): chunks/<h[0:2]>/<h>.
func ComputeChunkLocator(chunksDir, hash string) string {
	if len(hash) < 2 {
		return filepath.Join(chunksDir, hash)
	}
	return filepath.Join(chunksDir, hash[0:2], hash)
}
