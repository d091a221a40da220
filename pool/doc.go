// Package pool caches GPU resources so that frames do not allocate.
//
// [BufferPool] and [TexturePool] key resources structurally (size and usage
// flags for buffers, the full descriptor for textures) and hand out shared,
// reference-counted handles. Each pool keeps separate maps per usage class
// but one LRU ordering across all of them. Inserting into a full pool
// evicts the least recently used entry first. Eviction only drops the pool's
// own reference: the hal object is destroyed when the last holder calls
// Release.
//
// [MemoryPool] is the byte budget behind the resource pools. It hands out
// offset ranges bucketed into small (<1 KiB), medium (<64 KiB) and large
// size classes, and recycles released chunks instead of giving them back.
//
// All pools use one coarse mutex each. They are safe for concurrent use.
package pool
