package game

func murmurMix(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Hash is an order-independent digest of the drawn edges and the ball
// position. Border segments are included, so only positions on the same
// layout are comparable.
func (b *Board) Hash() uint64 {
	var hash uint64
	for i := 1; i < b.size; i++ {
		row := b.matrix[i*b.size : i*b.size+i]
		for j, v := range row {
			if v&cellDrawn == 0 {
				continue
			}
			p := uint64(i+1)<<16 + uint64(j+1)
			hash ^= murmurMix(202289 * p)
		}
	}
	return hash ^ murmurMix(uint64(101*b.ball+1))
}
