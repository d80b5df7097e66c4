package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/progress"
)

// Run performs the canonical backup: traverses sourcePath, streams every
// regular file through the chunk store, assembles a snapshot, and saves it
// durably (spec §4.4 Run).
func (e *Engine) Run(ctx context.Context, sourcePath string) (*domain.Snapshot, error) {
	start := time.Now()

	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve source path: %w", err)
	}

	e.progress.Broadcast(progress.Lifecycle(progress.EventBackupStart, "backup starting for "+absSource))

	snap := e.manifests.Create(absSource)

	_, totalSize, err := countFiles(absSource)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: run count: %w", err)
	}

	entries, err := walkTree(absSource)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: run walk: %w", err)
	}

	fileResults, err := e.chunkEntries(ctx, entries)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: run chunk: %w", err)
	}

	existing, newChunks, err := e.assemble(entries, fileResults, snap, progress.EventBackupProgress, totalSize)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: run assemble: %w", err)
	}

	snap.UniqueChunks = newChunks
	snap.Metadata["existing_chunks"] = existing
	snap.Metadata["new_chunks"] = newChunks
	snap.Metadata["dedup_ratio"] = dedupRatio(existing, newChunks)

	if err := e.manifests.Save(snap); err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: run save: %w", err)
	}

	e.metrics.RecordDedup(existing, newChunks)
	e.metrics.BackupDuration.Observe(time.Since(start).Seconds())
	e.metrics.SnapshotsTotal.Inc()

	e.progress.EmitInfo(fmt.Sprintf(
		"backup complete: %d files, %d bytes, %d unique chunks",
		snap.TotalFiles, snap.TotalSize, snap.UniqueChunks,
	))
	completeEvent := progress.Lifecycle(progress.EventBackupComplete, "backup complete")
	completeEvent.Metadata["snapshot_id"] = snap.ID
	e.progress.Broadcast(completeEvent)

	return snap, nil
}
