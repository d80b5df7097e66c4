package engine

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/ashgrove/vaultcore/internal/chunkstore"
	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/progress"
)

// fileResult is one file's chunking outcome, computed concurrently and
// assembled back into the snapshot in deterministic traversal order.
type fileResult struct {
	entry    walkEntry
	chunks   []domain.ChunkDescriptor
	isNew    []bool
	fileHash string
}

// chunkEntries streams every file entry through the chunk store across a
// bounded worker pool (spec §5: "a per-operation cap on concurrent file
// workers"), using github.com/sourcegraph/conc/pool.ContextPool so a single
// file's error cancels the remaining in-flight work rather than leaving it
// to run to completion pointlessly (spec §4.4 "Unreadable entries... aborts
// the current operation").
func (e *Engine) chunkEntries(ctx context.Context, entries []walkEntry) ([]fileResult, error) {
	fileEntries := make([]walkEntry, 0, len(entries))
	for _, en := range entries {
		if en.kind == kindFile {
			fileEntries = append(fileEntries, en)
		}
	}

	results := make([]fileResult, len(fileEntries))

	p := pool.New().
		WithMaxGoroutines(maxInt(e.cfg.MaxWorkers, 1)).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for i, fe := range fileEntries {
		i, fe := i, fe
		p.Go(func(ctx context.Context) error {
			chunks, isNew, err := e.chunks.ChunkFileClassified(ctx, fe.absPath)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", fe.relPath, err)
			}
			fileHash, err := chunkstore.ComputeFileHashFromChunks(chunks)
			if err != nil {
				return fmt.Errorf("hash %s: %w", fe.relPath, err)
			}
			results[i] = fileResult{entry: fe, chunks: chunks, isNew: isNew, fileHash: fileHash}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// assemble folds traversal entries (files and directories) into snap,
// in deterministic traversal order, tracking existing/new chunk counts and
// driving a byte-based progress tracker (spec §4.4 step 3e: "Advance the
// progress tracker by the file's byte size").
func (e *Engine) assemble(entries []walkEntry, fileResults []fileResult, snap *domain.Snapshot, eventType progress.EventType, totalBytes int64) (existing, newChunks int64, err error) {
	tracker := progress.NewTracker(e.progress, eventType, totalBytes)
	resultIdx := 0
	var processedBytes int64

	for _, en := range entries {
		switch en.kind {
		case kindDir:
			entry := &domain.FileEntry{
				Path:        en.relPath,
				Size:        0,
				ModTime:     en.info.ModTime(),
				Permissions: uint32(en.info.Mode().Perm()),
				IsDir:       true,
			}
			entry.FileHash, err = chunkstore.ComputeFileHash(nil)
			if err != nil {
				return existing, newChunks, err
			}
			if addErr := e.manifests.AddFile(snap, entry); addErr != nil {
				return existing, newChunks, addErr
			}

		case kindFile:
			fr := fileResults[resultIdx]
			resultIdx++

			entry := &domain.FileEntry{
				Path:        fr.entry.relPath,
				Size:        fr.entry.info.Size(),
				ModTime:     fr.entry.info.ModTime(),
				Permissions: uint32(fr.entry.info.Mode().Perm()),
				Chunks:      fr.chunks,
				FileHash:    fr.fileHash,
			}
			if addErr := e.manifests.AddFile(snap, entry); addErr != nil {
				return existing, newChunks, addErr
			}

			for _, isNew := range fr.isNew {
				if isNew {
					newChunks++
				} else {
					existing++
				}
			}

			processedBytes += fr.entry.info.Size()
			tracker.Update(processedBytes, fr.entry.relPath)
			e.metrics.RecordFileProcessed(string(eventType))
		}
	}

	return existing, newChunks, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
