// Package sharded provides lock-striped concurrent maps keyed by strings.
//
// The working copy uses them where many walker goroutines and store writers
// touch the same collection: object-existence caches and decoded-tree caches.
package sharded

import "hash/fnv"

// DefaultShards is the shard count used by New* when callers have no better estimate.
const DefaultShards = 64

// getShardIndex calculates the shard index for a given key.
// It uses the FNV-1a hash algorithm.
// numShards must be a power of 2 for the bitwise AND optimization to work correctly.
func getShardIndex(key string, numShards int) int {
	h := fnv.New32a()
	// Write never returns an error for FNV-1a, so we ignore the return value.
	h.Write([]byte(key))
	hashValue := h.Sum32()
	// Optimization: Use bitwise AND for power-of-2 modulus.
	return int(hashValue & uint32(numShards-1))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
