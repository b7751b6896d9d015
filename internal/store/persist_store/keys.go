package persist_store

import (
	"fmt"

	"github.com/syntrixbase/chunkdex/internal/store"
)

// Key layout:
//
//	p/{partition:05d}/{id}
//
// The fixed-width partition keeps each partition a contiguous key range.

const keyPrefix = "p/"

func partitionPrefix(p store.PartitionID) []byte {
	return []byte(fmt.Sprintf("%s%05d/", keyPrefix, p))
}

// partitionUpper is the exclusive upper bound of every key in p.
func partitionUpper(p store.PartitionID) []byte {
	b := partitionPrefix(p)
	b[len(b)-1]++
	return b
}

func entryKey(p store.PartitionID, id string) []byte {
	prefix := partitionPrefix(p)
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id...)
}

// idFromKey strips the partition prefix from key.
func idFromKey(p store.PartitionID, key []byte) (string, error) {
	prefix := partitionPrefix(p)
	if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
		return "", fmt.Errorf("%w: key %q outside partition %d", store.ErrCorruptValue, key, p)
	}
	return string(key[len(prefix):]), nil
}
