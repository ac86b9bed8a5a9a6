package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const chunkIDPrefix = "chunk:"

// ChunkID returns a stable chunk ID for the ordinal-th chunk of a source, so re-ingesting
// identical content writes identical rows.
func ChunkID(sourceID string, ordinal int) string {
	hash := sha256.Sum256([]byte(sourceID + "\x00" + strconv.Itoa(ordinal)))
	return chunkIDPrefix + hex.EncodeToString(hash[:16])
}
