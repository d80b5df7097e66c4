package engine

import "errors"

// Sentinel errors, spec §7 error taxonomy.
var (
	// ErrFileNotInSnapshot indicates a restore of a path not present in the
	// named snapshot.
	ErrFileNotInSnapshot = errors.New("engine: file not present in snapshot")

	// ErrIntegrityMismatch indicates the recomputed file hash disagreed with
	// the stored one during a verification-mode restore (spec §4.4 step 7).
	ErrIntegrityMismatch = errors.New("engine: restored file hash does not match manifest")
)
