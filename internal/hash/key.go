package hash

import (
	"github.com/minio/highwayhash"
)

// keySeed is fixed so bucket assignment is stable across processes.
var keySeed = []byte("colgo-keyed-table-hash-seed-0001")

// Key64 returns the 64-bit HighwayHash of a table key.
func Key64(key []byte) uint64 {
	return highwayhash.Sum64(key, keySeed)
}
