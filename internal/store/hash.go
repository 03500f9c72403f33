package store

import (
	"hash/fnv"
	"strconv"
)

// ContentHash returns a fast, deterministic fingerprint of content.
//
// FNV-1a is not a content-addressing primitive; it is only used to
// decide whether local content changed since the last sync, so a
// collision at worst suppresses one push until the next edit.
func ContentHash(content []byte) string {
	h := fnv.New64a()
	h.Write(content)
	return strconv.FormatUint(h.Sum64(), 16)
}
