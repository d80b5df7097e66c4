// Package config supplies the backup engine's own internal tunables: chunk
// size, worker pool cap, and broadcaster queue depth. It is not a front-end
// configuration-file loader for a CLI (that remains an external caller's
// job per spec §1) — it only resolves the handful of values spec §4.1/§5
// mark SHOULD-be-configurable, with defaults that make the engine runnable
// with zero configuration (spec §6).
//
// Follows the teacher's Config-struct-per-component idiom
// (filesystem.Config{DataDir, TempDir}), layered with spf13/viper so the
// values can also be supplied via environment variables without that ever
// being required. No configuration file is read.
package config

import (
	"runtime"

	"github.com/spf13/viper"

	"github.com/ashgrove/vaultcore/internal/chunkstore"
)

// defaultMaxWorkers caps the worker pool at a sensible ceiling even on
// machines with many hardware threads (spec §5).
const defaultMaxWorkers = 8

// Engine holds the backup engine's tunable defaults.
type Engine struct {
	// ChunkSize is the fixed byte window chunk_file splits files into.
	ChunkSize int

	// MaxWorkers caps concurrent per-file workers for scan/plan/run.
	MaxWorkers int

	// BroadcasterQueueDepth bounds the per-handler progress event buffer.
	BroadcasterQueueDepth int
}

// Load resolves engine tunables from environment variables prefixed
// VAULTCORE_ (e.g. VAULTCORE_CHUNK_SIZE, VAULTCORE_MAX_WORKERS) via viper,
// falling back to defaults for anything unset. No variable is required.
func Load() Engine {
	v := viper.New()
	v.SetEnvPrefix("vaultcore")
	v.AutomaticEnv()

	v.SetDefault("chunk_size", chunkstore.DefaultChunkSize)
	v.SetDefault("max_workers", defaultWorkerCeiling())
	v.SetDefault("broadcaster_queue_depth", 256)

	return Engine{
		ChunkSize:             v.GetInt("chunk_size"),
		MaxWorkers:            v.GetInt("max_workers"),
		BroadcasterQueueDepth: v.GetInt("broadcaster_queue_depth"),
	}
}

// defaultWorkerCeiling returns the number of hardware threads, capped at
// defaultMaxWorkers (spec §5: "default: the number of hardware threads,
// capped at a sensible ceiling such as 8").
func defaultWorkerCeiling() int {
	n := runtime.NumCPU()
	if n > defaultMaxWorkers {
		return defaultMaxWorkers
	}
	if n < 1 {
		return 1
	}
	return n
}
