// Package cache provides the recency index behind the viewport resource pools.
//
// An [Index] partitions its entries into usage classes (vertex buffers,
// uniform buffers, sampled textures, ...) while keeping a single LRU
// ordering across all of them. Capacity is enforced against the total entry
// count, so a burst of one class can evict idle entries of another.
//
// The index is not synchronized; owners guard it with their own mutex.
package cache
