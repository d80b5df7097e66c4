package engine

import (
	"context"
	"fmt"

	"github.com/ashgrove/vaultcore/internal/progress"
)

// Scan performs a read-only analysis of sourcePath: no chunk hashing, no
// chunk storage, no manifest written (spec §4.4 Scan). It exists for UI
// preview and validation of reachability/permissions ahead of a real run.
func (e *Engine) Scan(ctx context.Context, sourcePath string) error {
	e.progress.Broadcast(progress.Lifecycle(progress.EventScanStart, "scan starting for "+sourcePath))

	total, totalSize, err := countFiles(sourcePath)
	if err != nil {
		e.progress.EmitError(err)
		return fmt.Errorf("engine: scan count: %w", err)
	}
	e.progress.EmitInfo(fmt.Sprintf("found %d files, %d bytes", total, totalSize))

	entries, err := walkTree(sourcePath)
	if err != nil {
		e.progress.EmitError(err)
		return fmt.Errorf("engine: scan walk: %w", err)
	}

	tracker := progress.NewTracker(e.progress, progress.EventScanProgress, total)
	var seen int64
	for _, entry := range entries {
		if ctx.Err() != nil {
			e.progress.EmitError(ctx.Err())
			return ctx.Err()
		}
		if entry.kind != kindFile {
			continue
		}
		seen++
		tracker.Update(seen, entry.relPath)
		e.metrics.RecordFileProcessed("scan")
	}

	e.progress.Broadcast(progress.Lifecycle(progress.EventScanComplete, "scan complete"))
	return nil
}
