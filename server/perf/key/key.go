// Package key implements the packed integer encodings used as spatial
// identity throughout the performance layer. Block and chunk coordinates are
// packed into a single int64 so that maps keyed by position never touch
// floating point and never allocate per lookup.
package key

const (
	// Block coordinates are packed as x:26 | z:26 | y:12, matching the
	// coordinate range of the world (x, z in ±2^25, y in ±2^11).
	blockXBits = 26
	blockZBits = 26
	blockYBits = 12

	blockXMask = (1 << blockXBits) - 1
	blockZMask = (1 << blockZBits) - 1
	blockYMask = (1 << blockYBits) - 1
)

// Stagger spread constants. The multiplier is a large odd LCG constant so
// that neighbouring positions land in different residue classes.
const (
	staggerMul = 6364136223846793005
	staggerAdd = 1442695040888963407
)

// Block packs a block coordinate into an int64. The encoding is bijective
// over the supported coordinate range: equal coordinates always produce
// equal keys and UnpackBlock inverts it exactly.
func Block(x, y, z int) int64 {
	return int64(x&blockXMask)<<(blockYBits+blockZBits) |
		int64(z&blockZMask)<<blockYBits |
		int64(y&blockYMask)
}

// UnpackBlock returns the block coordinate packed by Block.
func UnpackBlock(k int64) (x, y, z int) {
	x = int(k << (64 - blockXBits - blockZBits - blockYBits) >> (64 - blockXBits))
	z = int(k << (64 - blockZBits - blockYBits) >> (64 - blockZBits))
	y = int(k << (64 - blockYBits) >> (64 - blockYBits))
	return x, y, z
}

// Chunk packs a chunk column coordinate into an int64, low 32 bits cx and
// high 32 bits cz.
func Chunk(cx, cz int32) int64 {
	return int64(uint64(uint32(cx)) | uint64(uint32(cz))<<32)
}

// UnpackChunk returns the chunk coordinate packed by Chunk.
func UnpackChunk(k int64) (cx, cz int32) {
	return int32(uint64(k)), int32(uint64(k) >> 32)
}

// ChunkOfBlock returns the key of the chunk column containing the packed
// block key. Chunks are 16 blocks on a side, so block to chunk is an
// arithmetic shift by 4 on x and z.
func ChunkOfBlock(bk int64) int64 {
	x, _, z := UnpackBlock(bk)
	return Chunk(int32(x>>4), int32(z>>4))
}

// Stagger spreads a packed block key across the int64 range. It is used to
// decide which ticks a throttled position is allowed to proceed on: the
// residue of (tick + Stagger(block)) modulo the throttle divisor is stable
// per position but drifts with the tick, so no position is permanently
// starved or permanently favoured.
func Stagger(bk int64) int64 {
	return bk*staggerMul + staggerAdd
}
