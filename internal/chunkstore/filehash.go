package chunkstore

import (
	"encoding/hex"

	"lukechampine.com/blake3"

	"github.com/ashgrove/vaultcore/internal/domain"
)

// emptyFileHash is the canonical sentinel returned for a file with no
// chunks: the BLAKE3-256 hash of the empty byte string.
var emptyFileHash = func() string {
	sum := blake3.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// ComputeFileHash folds an ordered sequence of chunk hashes into a single
// per-file integrity root (spec §4.1).
//
// This function is intentionally isolated: it depends only on the ordered
// hash sequence, never on chunk bytes, so a future upgrade to a true binary
// Merkle tree is a localized change behind this one call site. Today it
// implements the linear-fold variant pinned by the spec: feed each chunk's
// raw hash bytes, in order, into a single BLAKE3 hasher.
func ComputeFileHash(hashes []string) (string, error) {
	switch len(hashes) {
	case 0:
		return emptyFileHash, nil
	case 1:
		return hashes[0], nil
	}

	h := blake3.New(32, nil)
	for _, hash := range hashes {
		raw, err := hex.DecodeString(hash)
		if err != nil {
			return "", err
		}
		if _, err := h.Write(raw); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeFileHashFromChunks is a convenience wrapper over ComputeFileHash
// for callers holding full chunk descriptors rather than bare hash strings.
func ComputeFileHashFromChunks(chunks []domain.ChunkDescriptor) (string, error) {
	hashes := make([]string, len(chunks))
	for i, c := range chunks {
		hashes[i] = c.Hash
	}
	return ComputeFileHash(hashes)
}
