// Package engine implements the backup engine's orchestration layer: the
// scan/plan/run/restore operations described in spec §4.4. It owns exactly
// one chunk store, one manifest manager, and one progress broadcaster,
// rooted at a single backup root, and dispatches per-file work across a
// bounded worker pool using github.com/sourcegraph/conc's pool.ContextPool —
// already present in the teacher's indirect dependency graph, promoted to
// direct use here as the concrete idiom for spec §5's "bounded worker
// pool" requirement.
package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ashgrove/vaultcore/internal/chunkstore"
	vconfig "github.com/ashgrove/vaultcore/internal/config"
	"github.com/ashgrove/vaultcore/internal/domain"
	"github.com/ashgrove/vaultcore/internal/lock"
	"github.com/ashgrove/vaultcore/internal/manifest"
	"github.com/ashgrove/vaultcore/internal/metrics"
	"github.com/ashgrove/vaultcore/internal/progress"
)

// Options configures an Engine. Every field is optional; an Engine built
// from a zero-valued Options is fully functional, requiring no external
// service (spec §6: "no environment variables are mandated").
type Options struct {
	// Config overrides chunk size / worker cap / queue depth defaults.
	// Zero value resolves via config.Load().
	Config vconfig.Engine

	// Locker coordinates manifest saves across engines sharing a backup
	// root (spec §5). Defaults to a fresh in-memory locker owned by this
	// engine alone; pass a lock.RedisLocker to coordinate across engines
	// and processes.
	Locker lock.Locker

	// Presence overrides the chunk store's default in-memory hash presence
	// cache, e.g. with chunkstore.OpenSQLitePresence for a durable index.
	Presence chunkstore.PresenceCache

	// Metrics overrides the default collector set returned by metrics.New,
	// which is registered once and shared by every engine in the process.
	Metrics *metrics.Metrics

	// Logger is the base zerolog.Logger every component derives from.
	Logger zerolog.Logger

	// SkipRestoreVerification disables the RECOMMENDED verification mode
	// (spec §4.4 step 7) that recomputes a restored file's hash and
	// compares it against the manifest. Verification is on by default.
	SkipRestoreVerification bool
}

// Engine orchestrates scan/plan/run/restore against one backup root.
type Engine struct {
	backupRoot string
	chunks     *chunkstore.Store
	manifests  *manifest.Manager
	progress   *progress.Broadcaster
	metrics    *metrics.Metrics
	cfg        vconfig.Engine
	logger     zerolog.Logger
	skipVerify bool
}

// New constructs an Engine rooted at backupRoot, initializing the chunk
// store and manifest manager (spec §4.1/§4.2 Initialization) and
// registering a default console progress handler (spec §4.4 Construction).
func New(backupRoot string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(backupRoot, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create backup root: %w", err)
	}
	absRoot, err := filepath.Abs(backupRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: resolve backup root: %w", err)
	}

	cfg := opts.Config
	if cfg.ChunkSize == 0 && cfg.MaxWorkers == 0 {
		cfg = vconfig.Load()
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	locker := opts.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}

	chunks, err := chunkstore.New(absRoot, chunkstore.Options{
		ChunkSize: cfg.ChunkSize,
		Presence:  opts.Presence,
		Metrics:   m,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: init chunk store: %w", err)
	}

	manifests, err := manifest.New(absRoot, manifest.Options{Locker: locker, Metrics: m, Logger: opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("engine: init manifest manager: %w", err)
	}

	bc := progress.NewWithQueueDepth(opts.Logger, cfg.BroadcasterQueueDepth)
	bc.AddHandler(progress.NewConsoleHandler(opts.Logger))

	return &Engine{
		backupRoot: absRoot,
		chunks:     chunks,
		manifests:  manifests,
		progress:   bc,
		metrics:    m,
		cfg:        cfg,
		logger:     opts.Logger.With().Str("component", "engine").Logger(),
		skipVerify: opts.SkipRestoreVerification,
	}, nil
}

// AddProgressHandler registers an additional progress subscriber. Must be
// called before any operation whose events the caller wants to observe.
func (e *Engine) AddProgressHandler(h progress.Handler) {
	e.progress.AddHandler(h)
}

// Close releases the engine's chunk store presence cache and stops the
// progress broadcaster's delivery goroutines.
func (e *Engine) Close() error {
	e.progress.Close()
	return e.chunks.Close()
}

// ListSnapshots delegates to the manifest manager (spec §4.4).
func (e *Engine) ListSnapshots() ([]*domain.Snapshot, error) {
	return e.manifests.List()
}

// GetSnapshot delegates to the manifest manager (spec §4.4).
func (e *Engine) GetSnapshot(id string) (*domain.Snapshot, error) {
	return e.manifests.Load(id)
}
