// Package manifest implements the snapshot manifest manager: creation of
// in-memory snapshots, durable JSON persistence under <backup_root>/manifests/,
// and a "latest" pointer kept atomically up to date.
//
// The write-then-rename durability discipline ports
// internal/storage/filesystem/storage.go's temp-file-then-os.Rename idiom
// from blob bytes to manifest JSON.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/lock"
	"github.com/ashgrove/vaultcore/internal/metrics"
)

// Sentinel errors (spec §7 error taxonomy).
var (
	ErrManifestNotFound = errors.New("manifest: snapshot not found")
	ErrManifestCorrupt  = errors.New("manifest: snapshot file is corrupt")
	ErrDuplicatePath    = errors.New("manifest: duplicate path in snapshot")
)

const latestFileName = "latest.json"

// Manager owns the manifests/ directory under a backup root.
type Manager struct {
	dir     string
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Options configures a Manager.
type Options struct {
	// Locker serializes concurrent Save calls against the same backup root
	// (spec §5: two engines racing to update latest.json). Defaults to a
	// fresh in-memory locker owned by this Manager alone when nil.
	Locker lock.Locker

	// Metrics records save duration and load-failure counts (spec §6). Nil
	// disables instrumentation.
	Metrics *metrics.Metrics

	Logger zerolog.Logger
}

// New creates a manifest manager rooted at <backupRoot>/manifests/,
// creating the directory if absent (spec §4.2 Initialization).
func New(backupRoot string, opts Options) (*Manager, error) {
	dir := filepath.Join(backupRoot, "manifests")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("manifest: create manifests dir: %w", err)
	}

	locker := opts.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}

	return &Manager{
		dir:     dir,
		locker:  locker,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "manifest").Logger(),
	}, nil
}

// Create returns a fresh, empty in-memory snapshot for sourcePath.
func (m *Manager) Create(sourcePath string) *domain.Snapshot {
	return &domain.Snapshot{
		ID:         uuid.New().String(),
		Version:    domain.ManifestVersion,
		Timestamp:  time.Now().UTC(),
		SourcePath: sourcePath,
		Files:      make(map[string]*domain.FileEntry),
		Metadata:   make(map[string]any),
	}
}

// AddFile appends a file entry to an in-memory snapshot, rejecting
// duplicate paths.
func (m *Manager) AddFile(snap *domain.Snapshot, entry *domain.FileEntry) error {
	if _, exists := snap.Files[entry.Path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, entry.Path)
	}
	snap.Files[entry.Path] = entry
	snap.TotalSize += entry.Size
	snap.TotalFiles++
	return nil
}

// Save serializes the snapshot to <id>.json and mirrors it to latest.json,
// both via write-temp-then-rename so a crash mid-write never leaves a
// truncated file observable to readers (spec §4.2, §5).
func (m *Manager) Save(snap *domain.Snapshot) error {
	start := time.Now()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("manifest: marshal snapshot: %w", err)
	}

	ctx := context.Background()
	acquired, err := m.locker.AcquireWithRetry(ctx, latestLockKey, 30*time.Second, 10, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("manifest: acquire save lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("manifest: could not acquire save lock for %s", latestLockKey)
	}
	defer func() { _, _ = m.locker.Release(ctx, latestLockKey) }()

	idPath := filepath.Join(m.dir, snap.ID+".json")
	if err := writeAtomic(idPath, data); err != nil {
		return fmt.Errorf("manifest: write snapshot: %w", err)
	}

	latestPath := filepath.Join(m.dir, latestFileName)
	if err := writeAtomic(latestPath, data); err != nil {
		return fmt.Errorf("manifest: write latest pointer: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordManifestSave(time.Since(start).Seconds())
	}
	m.logger.Info().Str("snapshot_id", snap.ID).Int64("total_files", snap.TotalFiles).Msg("snapshot saved")
	return nil
}

const latestLockKey = "manifest:latest"

// writeAtomic writes data to a temp sibling of path then renames it into
// place, so readers never observe a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
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
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

// Load reads and deserializes the manifest with the given id.
func (m *Manager) Load(id string) (*domain.Snapshot, error) {
	return m.loadFile(filepath.Join(m.dir, id+".json"))
}

// LoadLatest reads latest.json.
func (m *Manager) LoadLatest() (*domain.Snapshot, error) {
	return m.loadFile(filepath.Join(m.dir, latestFileName))
}

func (m *Manager) loadFile(path string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m.recordLoadError("not_found")
			return nil, ErrManifestNotFound
		}
		m.recordLoadError("read_error")
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.recordLoadError("corrupt")
		return nil, fmt.Errorf("%w: %s: %v", ErrManifestCorrupt, path, err)
	}
	return &snap, nil
}

func (m *Manager) recordLoadError(reason string) {
	if m.metrics != nil {
		m.metrics.RecordManifestLoadError(reason)
	}
}

// List enumerates the manifests directory, deserializing every *.json entry
// except latest.json. Entries that fail to deserialize are skipped with a
// warn-level log line and no error (spec §4.2/§7: recovery tooling's job,
// not this one's).
func (m *Manager) List() ([]*domain.Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("manifest: read manifests dir: %w", err)
	}

	var snapshots []*domain.Snapshot
	for _, e := range entries {
		if e.IsDir() || e.Name() == latestFileName || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		snap, err := m.loadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			m.logger.Warn().Err(err).Str("file", e.Name()).Msg("skipping unreadable manifest")
			continue
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})

	return snapshots, nil
}
