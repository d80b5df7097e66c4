package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/progress"
)

// Plan performs a dry-run of the backup: it computes every chunk hash and
// the deduplication accounting but does not persist the snapshot (spec
// §4.4 Plan).
//
// Following the reference implementation's permitted baseline semantics
// (spec §4.4 "Important ambiguity"), Plan stores chunks as a side effect of
// measuring them — it does NOT leave the chunk store untouched. This
// eliminates duplicate work between Plan and a subsequent Run on the same
// source tree. See DESIGN.md for this Open Question's resolution.
func (e *Engine) Plan(ctx context.Context, sourcePath string) (*domain.Snapshot, error) {
	absSource, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve source path: %w", err)
	}

	e.progress.Broadcast(progress.Lifecycle(progress.EventPlanStart, "plan starting for "+absSource))

	snap := e.manifests.Create(absSource)

	_, totalSize, err := countFiles(absSource)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: plan count: %w", err)
	}

	entries, err := walkTree(absSource)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: plan walk: %w", err)
	}

	fileResults, err := e.chunkEntries(ctx, entries)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: plan chunk: %w", err)
	}

	existing, newChunks, err := e.assemble(entries, fileResults, snap, progress.EventPlanProgress, totalSize)
	if err != nil {
		e.progress.EmitError(err)
		return nil, fmt.Errorf("engine: plan assemble: %w", err)
	}

	snap.UniqueChunks = newChunks
	snap.Metadata["existing_chunks"] = existing
	snap.Metadata["new_chunks"] = newChunks
	snap.Metadata["dedup_ratio"] = dedupRatio(existing, newChunks)
	e.metrics.RecordDedup(existing, newChunks)

	e.progress.EmitInfo(fmt.Sprintf(
		"plan: %d files, %d existing chunks, %d new chunks, dedup ratio %.3f",
		snap.TotalFiles, existing, newChunks, dedupRatio(existing, newChunks),
	))
	e.progress.Broadcast(progress.Lifecycle(progress.EventPlanComplete, "plan complete"))

	return snap, nil
}

// dedupRatio computes existing / (existing + new), 1.0 meaning nothing new
// was stored (spec §4.4, GLOSSARY).
func dedupRatio(existing, newChunks int64) float64 {
	total := existing + newChunks
	if total == 0 {
		return 0
	}
	return float64(existing) / float64(total)
}
