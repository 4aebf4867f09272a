// Package hash provides the checksums and key hashes used by the storage layer.
//
// All file checksums use CRC32-Castagnoli:
//
//	checksum := hash.CRC32C(data)
//
// Hash-table keys are bucketed with HighwayHash-64 under a fixed seed, so a
// table snapshot written by one process is readable by another:
//
//	h := hash.Key64(key)
package hash
